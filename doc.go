// Package overlay renders the in-application debug overlay of a graphics
// capture tool: formatted text, texture previews and checkerboard backdrops
// drawn over the instrumented application's own output.
//
// # Overview
//
// The overlay runs inside a capture/replay controller that wraps an
// explicit-state graphics API. It borrows the wrapped device through the
// driver package, draws through short-lived command lists, and leaves every
// captured resource in exactly the state the application last recorded,
// which makes the per-subresource barrier save/restore in RenderTexture the
// core correctness guarantee of the package.
//
// # Quick Start
//
//	import "github.com/gogpu/overlay"
//
//	m, err := overlay.New(device, tracker, overlay.Config{
//		CachePath: "programs.bin",
//	})
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	id := m.OpenWindow(nativeWindow, false)
//	m.BindWindow(id)
//	m.RenderCheckerboard([3]float32{0.8, 0.8, 0.8}, [3]float32{0.5, 0.5, 0.5})
//	m.RenderText(1, 1, "frame %d", frame)
//	m.Flip(id)
//
// # Architecture
//
// The package is organized into:
//   - Manager: descriptor heaps, binding layouts, pipelines, font, windows
//   - driver: the contract to the wrapped graphics API
//   - shadercache: the hashed program blob cache persisted across sessions
//   - internal/atlas: the baked monospace glyph sheet
//
// # Threading
//
// Everything runs on the controller's render thread. The only calls that
// wait on the GPU are CheckResize and Flip, plus New itself while the font
// atlas uploads; every other operation records and hands off without
// blocking.
package overlay
