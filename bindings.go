package overlay

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/driver"
)

// Slot positions in the text binding layout. SetConstantBuffer and
// SetDescriptorTable address slots by position, matching the order of
// textLayoutSlots.
const (
	textSlotLayout   = 0
	textSlotGlyphs   = 1
	textSlotChars    = 2
	textSlotAtlas    = 3
	textSlotSamplers = 4
)

// Slot positions in the preview binding layout, shared by the texture
// preview and the checkerboard.
const (
	previewSlotVSData    = 0
	previewSlotPSData    = 1
	previewSlotResources = 2
	previewSlotSamplers  = 3
)

// previewTableSize is the length of the preview shader-resource table. The
// transient source view lands at family*familySlotStride + display type
// within it, so the table must cover the signed-integer family block.
const previewTableSize = 32

// textLayoutSlots is the root layout of the text renderer: the per-draw
// layout constants, the static glyph table and the character ring buffer
// bound directly, then the atlas view and the two samplers as tables.
func textLayoutSlots() []driver.BindingSlot {
	return []driver.BindingSlot{
		{Kind: driver.SlotConstantBuffer, Register: 0, Count: 1, Visibility: gputypes.ShaderStageVertex},
		{Kind: driver.SlotConstantBuffer, Register: 1, Count: 1, Visibility: gputypes.ShaderStageVertex},
		{Kind: driver.SlotConstantBuffer, Register: 2, Count: 1, Visibility: gputypes.ShaderStageVertex},
		{Kind: driver.SlotResourceTable, Register: 0, Count: 1, Visibility: gputypes.ShaderStageFragment},
		{Kind: driver.SlotSamplerTable, Register: 0, Count: 2, Visibility: gputypes.ShaderStageFragment},
	}
}

// previewLayoutSlots is the root layout of the preview and checkerboard
// pipelines: one constant buffer per stage, the full source table and the
// two samplers.
func previewLayoutSlots() []driver.BindingSlot {
	return []driver.BindingSlot{
		{Kind: driver.SlotConstantBuffer, Register: 0, Count: 1, Visibility: gputypes.ShaderStageVertex},
		{Kind: driver.SlotConstantBuffer, Register: 1, Count: 1, Visibility: gputypes.ShaderStageFragment},
		{Kind: driver.SlotResourceTable, Register: 0, Count: previewTableSize, Visibility: gputypes.ShaderStageFragment},
		{Kind: driver.SlotSamplerTable, Register: 0, Count: 2, Visibility: gputypes.ShaderStageFragment},
	}
}

// buildBindingLayout serializes the slot list into the device's wire format
// and materializes the layout from the serialized form. Failures are logged
// and yield nil; the built-in layouts are checked at initialization.
func (m *Manager) buildBindingLayout(slots []driver.BindingSlot) driver.BindingLayout {
	serialized, err := m.device.SerializeBindingLayout(slots)
	if err != nil {
		Logger().Error("serialize binding layout", "slots", len(slots), "err", err)
		return nil
	}
	layout, err := m.device.CreateBindingLayout(serialized)
	if err != nil {
		Logger().Error("create binding layout", "slots", len(slots), "err", err)
		return nil
	}
	return layout
}
