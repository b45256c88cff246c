package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lvdashuaibi/electvote/internal/model"
	"github.com/lvdashuaibi/electvote/internal/scheduler"
)

// EmailCallbackPath 定时回调调用的邮件发送接口，使用GET
const EmailCallbackPath = "/send-emails/pre-post"

// scheduleTriggers 为开始和结束边界创建回调，失败只体现在返回的状态里
func (s *ElectionService) scheduleTriggers(ctx context.Context, e *model.Election, prevStart, prevEnd time.Time, force bool) model.JobStatus {
	status := model.JobStatus{Start: model.TriggerSkipped, End: model.TriggerSkipped}

	// 请求结束后也要把已经发出的调用完成
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.electionCfg.SchedulerTimeout)
	defer cancel()

	var g errgroup.Group
	if force || !e.StartDate.Equal(prevStart) {
		g.Go(func() error {
			status.Start = s.scheduleBoundary(tctx, e, model.BoundaryStart, e.StartJobID)
			return nil
		})
	}
	if force || !e.EndDate.Equal(prevEnd) {
		g.Go(func() error {
			status.End = s.scheduleBoundary(tctx, e, model.BoundaryEnd, e.EndJobID)
			return nil
		})
	}
	_ = g.Wait()

	return status
}

// triggerTime 开始前lead或结束后lag触发，已过去的时间推迟到now+minDelay
func (s *ElectionService) triggerTime(e *model.Election, boundary model.TriggerBoundary) time.Time {
	var at time.Time
	if boundary == model.BoundaryStart {
		at = e.StartDate.Add(-s.electionCfg.StartTriggerLead)
	} else {
		at = e.EndDate.Add(s.electionCfg.EndTriggerLag)
	}
	if now := s.now(); at.Before(now) {
		at = now.Add(s.electionCfg.MinTriggerDelay)
	}
	return at
}

func (s *ElectionService) scheduleBoundary(ctx context.Context, e *model.Election, boundary model.TriggerBoundary, previousJobID string) model.TriggerStatus {
	logger := s.logger.With(zap.String("electionId", e.ID), zap.String("boundary", string(boundary)))

	if previousJobID != "" {
		if err := s.scheduler.CancelTrigger(ctx, previousJobID); err != nil {
			if errors.Is(err, scheduler.ErrDisabled) {
				return model.TriggerSkipped
			}
			logger.Warn("取消旧的触发器失败", zap.String("jobId", previousJobID), zap.Error(err))
		}
	}

	jobID, err := s.scheduler.ScheduleTrigger(ctx, scheduler.Trigger{
		Title:       fmt.Sprintf("%s %d Election", boundary, e.Year(s.loc)),
		CallbackURL: s.backendURL + EmailCallbackPath,
		Method:      http.MethodGet,
		Headers:     map[string]string{"Authorization": "Bearer " + s.adminToken},
		When:        s.triggerTime(e, boundary),
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrDisabled) {
			return model.TriggerSkipped
		}
		logger.Error("创建触发器失败", zap.Error(err))
		return model.TriggerFailed
	}

	if err := s.elections.SetTriggerJobID(ctx, e.ID, boundary, jobID); err != nil {
		logger.Error("保存触发器id失败", zap.String("jobId", jobID), zap.Error(err))
		return model.TriggerFailed
	}
	logger.Info("触发器已创建", zap.String("jobId", jobID))
	return model.TriggerSuccess
}

func (s *ElectionService) cancelTrigger(ctx context.Context, jobID string) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.electionCfg.SchedulerTimeout)
	defer cancel()
	if err := s.scheduler.CancelTrigger(tctx, jobID); err != nil && !errors.Is(err, scheduler.ErrDisabled) {
		s.logger.Warn("取消触发器失败", zap.String("jobId", jobID), zap.Error(err))
	}
}
