package vulkan

import (
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_timeline_semaphore"
	"github.com/vkngwrapper/fathom/render"
)

// timelineSemaphore implements render.TimelineSemaphore on the
// khr_timeline_semaphore extension. All timeline-specific entry points
// live here so that core rendering never depends on the extension
// directly.
type timelineSemaphore struct {
	extension khr_timeline_semaphore.Extension
	device    core1_0.Device
	semaphore core1_0.Semaphore
}

func (d *Device) CreateTimelineSemaphore(initialValue uint64) (render.TimelineSemaphore, error) {
	vkSemaphore, _, err := d.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{
		NextOptions: common.NextOptions{
			Next: khr_timeline_semaphore.SemaphoreTypeCreateInfo{
				SemaphoreType: khr_timeline_semaphore.SemaphoreTypeTimeline,
				InitialValue:  initialValue,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	return &timelineSemaphore{
		extension: d.timelines,
		device:    d.device,
		semaphore: vkSemaphore,
	}, nil
}

func (s *timelineSemaphore) Counter() (uint64, error) {
	value, _, err := s.extension.SemaphoreCounterValue(s.semaphore)
	return value, err
}

func (s *timelineSemaphore) Wait(value uint64) error {
	_, err := s.extension.WaitSemaphores(s.device, common.NoTimeout, khr_timeline_semaphore.SemaphoreWaitInfo{
		Semaphores: []core1_0.Semaphore{s.semaphore},
		Values:     []uint64{value},
	})
	return err
}

func (s *timelineSemaphore) Signal(value uint64) error {
	_, err := s.extension.SignalSemaphore(s.device, khr_timeline_semaphore.SemaphoreSignalInfo{
		Semaphore: s.semaphore,
		Value:     value,
	})
	return err
}

func (s *timelineSemaphore) Destroy() {
	s.semaphore.Destroy(nil)
}
