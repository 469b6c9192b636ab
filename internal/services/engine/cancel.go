package engine

import (
	"context"

	"homepulse/internal/eventbus"
	logx "homepulse/pkg/logx"
)

// CancelForTask cancels every unresolved schedule bound to the task id:
// platform cancel first, then local record removal.
func (s *Service) CancelForTask(ctx context.Context, taskID string) error {
	return s.cancelWhere(ctx, func(sch *Schedule) bool {
		return sch.RelatedTaskID == taskID
	})
}

// CancelForEquipment is CancelForTask for equipment bindings.
func (s *Service) CancelForEquipment(ctx context.Context, equipmentID string) error {
	return s.cancelWhere(ctx, func(sch *Schedule) bool {
		return sch.RelatedEquipmentID == equipmentID
	})
}

// Cancel removes a single schedule by id.
func (s *Service) Cancel(ctx context.Context, id string) error {
	found := false
	err := s.cancelWhere(ctx, func(sch *Schedule) bool {
		if sch.ID == id {
			found = true
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *Service) cancelWhere(ctx context.Context, match func(*Schedule) bool) error {
	s.mu.Lock()
	var victims []Schedule
	kept := s.schedules[:0]
	for i := range s.schedules {
		sch := s.schedules[i]
		if match(&sch) && !sch.resolved() {
			victims = append(victims, sch)
			continue
		}
		kept = append(kept, sch)
	}
	s.schedules = kept
	if len(victims) > 0 {
		s.persistSchedulesLocked()
	}
	s.mu.Unlock()

	if len(victims) == 0 {
		return nil
	}

	for _, sch := range victims {
		if err := s.notifier.Cancel(ctx, sch.ID); err != nil {
			// Removal proceeds regardless; a cancelled record must not
			// linger because the platform hiccuped.
			s.log.Warn("platform cancel failed", logx.String("id", sch.ID), logx.Err(err))
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleCancelled, Data: eventbus.ScheduleEvent{
				ScheduleID:  sch.ID,
				Type:        string(sch.Type),
				RelatedTask: sch.RelatedTaskID,
				RelatedEq:   sch.RelatedEquipmentID,
			}})
		}
	}
	return nil
}

// Run is the lifecycle binder: it watches entity events and bulk
// cancels the schedules bound to completed or deleted entities.
// Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if s.bus == nil {
		<-ctx.Done()
		return
	}
	ch, unsub := s.bus.Subscribe(32)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			ent, isEntity := ev.Data.(eventbus.EntityEvent)
			if !isEntity {
				continue
			}
			switch ev.Type {
			case eventbus.TypeTaskCompleted, eventbus.TypeTaskDeleted:
				if err := s.CancelForTask(ctx, ent.ID); err != nil {
					s.log.Warn("lifecycle cancel failed", logx.String("task", ent.ID), logx.Err(err))
				}
			case eventbus.TypeEquipmentDeleted:
				if err := s.CancelForEquipment(ctx, ent.ID); err != nil {
					s.log.Warn("lifecycle cancel failed", logx.String("equipment", ent.ID), logx.Err(err))
				}
			}
		}
	}
}
