package main

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
)

type pinger func(context.Context) error

type subscriptionRunner interface {
	Run(ctx context.Context, subscription *pubsub.Subscriber) error
}

type ServiceParams struct {
	Logger        *logger.Logger
	Consumer      subscriptionRunner
	Subscriptions map[string]*pubsub.Subscriber
	// Dependencies are pinged once before consuming starts.
	Dependencies map[string]pinger
}

type Service struct {
	logg          *logger.Logger
	consumer      subscriptionRunner
	subscriptions map[string]*pubsub.Subscriber
	deps          map[string]pinger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("consumer is required")
	}
	subs := map[string]*pubsub.Subscriber{}
	for name, sub := range params.Subscriptions {
		if sub != nil {
			subs[name] = sub
		}
	}
	if len(subs) == 0 {
		return nil, errors.New("at least one subscription is required")
	}
	return &Service{
		logg:          params.Logger,
		consumer:      params.Consumer,
		subscriptions: subs,
		deps:          params.Dependencies,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range s.deps {
		if ping == nil {
			continue
		}
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run consumes every subscription until ctx is canceled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for name, sub := range s.subscriptions {
		name, sub := name, sub
		group.Go(func() error {
			subCtx := s.logg.WithField(groupCtx, "subscription", name)
			s.logg.Info(subCtx, "consuming subscription")
			if err := s.consumer.Run(subCtx, sub); err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(subCtx, "consumer stopped unexpectedly", err)
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
