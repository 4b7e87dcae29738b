package foreman

import (
	"time"

	"github.com/unmanic/unmanicd/pkg/workergroup"
)

// repetitionMatches reports whether today matches a schedule event's
// repetition selector.
func repetitionMatches(r workergroup.Repetition, now time.Time) bool {
	weekday := now.Weekday()
	switch r {
	case workergroup.RepetitionDaily:
		return true
	case workergroup.RepetitionWeekday:
		return weekday >= time.Monday && weekday <= time.Friday
	case workergroup.RepetitionWeekend:
		return weekday == time.Saturday || weekday == time.Sunday
	case workergroup.RepetitionMonday:
		return weekday == time.Monday
	case workergroup.RepetitionTuesday:
		return weekday == time.Tuesday
	case workergroup.RepetitionWednesday:
		return weekday == time.Wednesday
	case workergroup.RepetitionThursday:
		return weekday == time.Thursday
	case workergroup.RepetitionFriday:
		return weekday == time.Friday
	case workergroup.RepetitionSaturday:
		return weekday == time.Saturday
	case workergroup.RepetitionSunday:
		return weekday == time.Sunday
	default:
		return false
	}
}

// runScheduleEvents implements step 5: run due schedule events at most
// once per minute, applying pause/resume/count actions to the matching
// group's worker threads.
func (f *Foreman) runScheduleEvents() {
	now := time.Now()
	nowHHMM := now.Format("15:04")

	f.mu.Lock()
	if f.lastScheduleRun == nowHHMM {
		f.mu.Unlock()
		return
	}
	f.lastScheduleRun = nowHHMM
	f.mu.Unlock()

	groups, err := f.groups.GetAllWorkerGroups(f.legacyWorkerCount, f.clearLegacyCount)
	if err != nil {
		f.logger.Error().Err(err).Msg("list worker groups for schedule events failed")
		return
	}

	for _, g := range groups {
		for _, ev := range g.WorkerSchedules {
			if ev.ScheduleTime != nowHHMM || !repetitionMatches(ev.Repetition, now) {
				continue
			}
			f.applyScheduleEvent(g.ID, ev)
		}
	}
}

func (f *Foreman) applyScheduleEvent(groupID string, ev workergroup.ScheduleEvent) {
	switch ev.ScheduleTask {
	case workergroup.ScheduleTaskPause:
		f.setGroupPaused(groupID, true)
	case workergroup.ScheduleTaskResume:
		f.setGroupPaused(groupID, false)
	case workergroup.ScheduleTaskCount:
		if err := f.groups.SetWorkerCount(groupID, ev.ScheduleWorkerCount); err != nil {
			f.logger.Error().Err(err).Str("group_id", groupID).Msg("schedule event: set worker count failed")
		}
	}
}

func (f *Foreman) setGroupPaused(groupID string, paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, w := range f.workers {
		if f.groupOf[id] != groupID {
			continue
		}
		if paused {
			w.Pause()
		} else {
			w.Resume()
		}
	}
}
