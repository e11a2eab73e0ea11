package overlay

// RenderCheckerboard fills the current window with a light/dark checker
// pattern, the backdrop drawn under translucent previews. It reuses the
// preview constant layout: the light color rides in the channel-mask slot
// and the dark color in the secondary slot.
func (m *Manager) RenderCheckerboard(light, dark [3]float32) {
	w := m.current
	if w == nil {
		return
	}

	vs := displayVSData{
		Position: [4]float32{-1, -1, float32(w.width), float32(w.height)},
		Scale:    [4]float32{2, 2, float32(w.width) / float32(w.height), 0},
	}
	ps := displayPSData{
		Channels:  [4]float32{light[0], light[1], light[2], 1},
		Secondary: [4]float32{dark[0], dark[1], dark[2], 1},
	}
	constBuf := m.nextConstBuffer()
	if !m.fillDisplayConstants(constBuf, vs, ps) {
		return
	}

	list, err := m.queue.NewCommandList()
	if err != nil {
		Logger().Error("checkerboard command list", "err", err)
		return
	}
	m.setWindowTarget(list, w)
	list.SetPipeline(m.checkerPipeline)
	list.SetBindingLayout(m.previewLayout)
	list.SetDescriptorHeaps(m.srvHeap.heap, m.samplerHeap.heap)
	list.SetConstantBuffer(previewSlotVSData, constBuf, 0)
	list.SetConstantBuffer(previewSlotPSData, constBuf, constPSOffset)
	list.SetDescriptorTable(previewSlotResources, m.previewTable)
	list.SetDescriptorTable(previewSlotSamplers, m.samplerTable)
	list.Draw(4, 1)
	if err := list.Close(); err != nil {
		Logger().Error("close checkerboard list", "err", err)
		return
	}
	m.queue.Execute(list)
}
