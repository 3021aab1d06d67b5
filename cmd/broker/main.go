/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/common"
)

// The broker forwards change notifications between walletsync processes
// that share one database. Publishers connect to the XSUB side and
// subscribers to the XPUB side.
func main() {
	frontendAddr := flag.String("xsub", envOr("BROKER_XSUB_ADDR", "tcp://*:5557"), "address publishers connect to")
	backendAddr := flag.String("xpub", envOr("BROKER_XPUB_ADDR", "tcp://*:5558"), "address subscribers connect to")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	zmqCtx, err := zmq.NewContext()
	if err != nil {
		zap.L().Fatal("Failed to create zmq context", zap.Error(err))
	}

	xsub, err := zmqCtx.NewSocket(zmq.XSUB)
	if err != nil {
		zap.L().Fatal("Failed to create XSUB socket", zap.Error(err))
	}
	defer xsub.Close()
	if err := xsub.Bind(*frontendAddr); err != nil {
		zap.L().Fatal("Failed to bind XSUB socket", zap.String("address", *frontendAddr), zap.Error(err))
	}

	xpub, err := zmqCtx.NewSocket(zmq.XPUB)
	if err != nil {
		zap.L().Fatal("Failed to create XPUB socket", zap.Error(err))
	}
	defer xpub.Close()
	if err := xpub.Bind(*backendAddr); err != nil {
		zap.L().Fatal("Failed to bind XPUB socket", zap.String("address", *backendAddr), zap.Error(err))
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		zap.L().Info("Shutdown signal received, stopping broker...")
		// Terminating the context makes Proxy return.
		_ = zmqCtx.Term()
	}()

	zap.L().Info("Notification broker running",
		zap.String("xsub", *frontendAddr),
		zap.String("xpub", *backendAddr))

	if err := zmq.Proxy(xsub, xpub, nil); err != nil {
		zap.L().Info("Broker stopped", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
