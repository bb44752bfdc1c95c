package board

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// Scheduler periodically captures the rooms returned by activeRooms, skipping rooms whose content did not change
// since their newest snapshot.
type Scheduler struct {
	cron        *cron.Cron
	snapshots   *SnapshotManager
	activeRooms func() []string
	user        *types.User
}

func NewScheduler(cronSpec string, snapshots *SnapshotManager, activeRooms func() []string, user *types.User) (*Scheduler, error) {
	s := &Scheduler{
		cron:        cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		snapshots:   snapshots,
		activeRooms: activeRooms,
		user:        user,
	}
	if _, err := s.cron.AddFunc(cronSpec, func() { s.RunOnce() }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running capture to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce captures every active room once and returns the number of new snapshots.
func (s *Scheduler) RunOnce() int {
	captured := 0
	name := fmt.Sprintf("Scheduled snapshot %s", time.Now().UTC().Format(time.RFC3339))
	for _, roomId := range s.activeRooms() {
		_, created, err := s.snapshots.CaptureIfChanged(roomId, s.user, name)
		if err != nil {
			globals.AppLogger.Error("scheduled snapshot failed", "room", roomId, "error", err)
			continue
		}
		if created {
			captured++
		}
	}
	return captured
}
