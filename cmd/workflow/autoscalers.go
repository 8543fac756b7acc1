package main

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/geocube/interface/autoscaler"
	rc "github.com/airbusgeo/geocube/interface/autoscaler/k8s"
	"github.com/airbusgeo/geocube/interface/autoscaler/qbas"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/drnhhl/terragon/service/log"
	"go.uber.org/zap"
)

// runAutoscaler scales the replication controller of the workers given the size of the job queue
func runAutoscaler(ctx context.Context, project string, config autoscalerConfig) error {
	if config.WorkerRC == "" {
		return fmt.Errorf("missing worker replication controller")
	}
	wctx := log.WithFields(ctx, zap.String("rc", config.WorkerRC), zap.String("queue", config.PsJobQueue))

	controller, err := rc.New(config.WorkerRC, config.Namespace)
	if err != nil {
		return fmt.Errorf("rc.new: %w", err)
	}
	controller.AllowEviction = false
	controller.CostPath = "/termination_cost"
	controller.CostPort = 9000

	queue, err := pubsub.NewConsumer(project, config.PsJobQueue)
	if err != nil {
		return fmt.Errorf("pubsub.new: %w", err)
	}

	cfg := qbas.Config{
		Ratio:        1,
		MinRatio:     1,
		MaxInstances: config.MaxWorkerInstances,
		MinInstances: 0,
		MaxStep:      2,
	}
	as := autoscaler.New(queue, controller, cfg, log.Logger(wctx))
	log.Logger(wctx).Sugar().Infof("starting autoscaler")
	go as.Run(wctx, 30*time.Second)
	return nil
}
