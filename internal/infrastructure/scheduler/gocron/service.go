package timescheduler

import (
	"time"

	"github.com/go-co-op/gocron"

	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) Unit() ports.TimeUnit {
	return ports.UnixTime
}

func (s *service) AddNow(delta int64) int64 {
	return time.Now().Unix() + delta
}

func (s *service) AfterNow(at int64) bool {
	return at > time.Now().Unix()
}

func (s *service) ScheduleTaskOnce(at int64, task func()) error {
	_, err := s.scheduler.Every(1).StartAt(time.Unix(at, 0)).LimitRunsTo(1).Do(task)
	return err
}
