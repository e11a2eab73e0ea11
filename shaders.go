package overlay

import (
	_ "embed"
	"encoding/binary"
	"math"
)

// Embedded WGSL sources for the built-in overlay programs. They are compiled
// through the program cache during initialization; caller-supplied programs go
// through CompileProgram instead.

//go:embed shaders/text.wgsl
var textShaderSource string

//go:embed shaders/texdisplay.wgsl
var texDisplayShaderSource string

//go:embed shaders/checkerboard.wgsl
var checkerboardShaderSource string

// Entry points of the built-in programs.
const (
	textVSEntry    = "vs_text"
	textFSEntry    = "fs_text"
	displayVSEntry = "vs_display"
	displayFSEntry = "fs_display"
	checkerVSEntry = "vs_checker"
	checkerFSEntry = "fs_checker"
)

// Flag bits in the preview pixel constants, matching texdisplay.wgsl.
const (
	displayFlagNaNs     = 1
	displayFlagClipping = 2
	displayFlagGamma    = 4
	displayFlagRaw      = 8
)

// Display type selectors in the preview pixel constants, matching
// texdisplay.wgsl. The value doubles as the SRV slot within a format family.
const (
	displayType1D   = 1
	displayType2D   = 2
	displayType3D   = 3
	displayType2DMS = 4
)

// Format families for the preview source. Integer sources read through
// dedicated SRV slots offset by family*familySlotStride in the shader-visible
// table, mirroring the register families of the original HLSL.
const (
	familyFloat = 0
	familyUInt  = 1
	familySInt  = 2

	familySlotStride = 10
)

// textLayoutData matches the TextLayout struct in text.wgsl.
type textLayoutData struct {
	// Position holds xy = string origin in character cells,
	// zw = cell size in pixels (advance, line height).
	Position [4]float32
	// Screen holds xy = viewport size in pixels, zw = atlas texel size.
	Screen [4]float32
}

func (d textLayoutData) toBytes() []byte {
	buf := make([]byte, 32)
	putVec4(buf[0:16], d.Position)
	putVec4(buf[16:32], d.Screen)
	return buf
}

// displayVSData matches the DisplayVSData struct in texdisplay.wgsl and
// checkerboard.wgsl.
type displayVSData struct {
	// Position holds xy = quad origin in NDC (bottom-left),
	// zw = viewport size in pixels.
	Position [4]float32
	// Scale holds xy = quad extent in NDC units (2,2 covers the viewport),
	// z = window aspect.
	Scale [4]float32
}

func (d displayVSData) toBytes() []byte {
	buf := make([]byte, 32)
	putVec4(buf[0:16], d.Position)
	putVec4(buf[16:32], d.Scale)
	return buf
}

// displayPSData matches the DisplayPSData struct in texdisplay.wgsl and
// checkerboard.wgsl.
type displayPSData struct {
	// Channels is the channel mask, or the light checker color in rgb.
	Channels [4]float32
	// Secondary is the dark checker color in rgb.
	Secondary [4]float32
	// Range holds x = range min, y = 1/(max-min), z = mip, w = 3D slice.
	Range [4]float32
	// Flags holds x = flag bits, y = sample index (negative sample count
	// requests shader-side resolve), z = display type, w = format family.
	Flags [4]int32
}

func (d displayPSData) toBytes() []byte {
	buf := make([]byte, 64)
	putVec4(buf[0:16], d.Channels)
	putVec4(buf[16:32], d.Secondary)
	putVec4(buf[32:48], d.Range)
	le := binary.LittleEndian
	le.PutUint32(buf[48:52], uint32(d.Flags[0]))
	le.PutUint32(buf[52:56], uint32(d.Flags[1]))
	le.PutUint32(buf[56:60], uint32(d.Flags[2]))
	le.PutUint32(buf[60:64], uint32(d.Flags[3]))
	return buf
}

// putVec4 writes four float32 values in little-endian order.
func putVec4(buf []byte, v [4]float32) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], math.Float32bits(v[0]))
	le.PutUint32(buf[4:8], math.Float32bits(v[1]))
	le.PutUint32(buf[8:12], math.Float32bits(v[2]))
	le.PutUint32(buf[12:16], math.Float32bits(v[3]))
}
