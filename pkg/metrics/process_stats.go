// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
)

var (
	ProcessCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: gardenNamespace,
			Name:      "process_cpu_percent",
			Help:      "cpu usage percent of the current process",
		})

	ProcessMemoryRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: gardenNamespace,
			Name:      "process_memory_rss_bytes",
			Help:      "resident memory size of the current process in bytes",
		})

	ProcessGoroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: gardenNamespace,
			Name:      "process_goroutines",
			Help:      "number of goroutines in the current process",
		})
)

// RegisterProcessStats 注册进程级指标。
func RegisterProcessStats(r prometheus.Registerer) {
	r.MustRegister(ProcessCPUPercent)
	r.MustRegister(ProcessMemoryRSS)
	r.MustRegister(ProcessGoroutines)
}

// StartProcessStatsLoop 周期性采集当前进程的 CPU、内存与 goroutine 数量。
// 采集失败只记录日志并继续，ctx 取消后退出。
func StartProcessStatsLoop(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("create process handle for stats collection failed", zap.Error(err))
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collectProcessStats(proc)
			}
		}
	}()
}

func collectProcessStats(proc *process.Process) {
	if percent, err := proc.CPUPercent(); err == nil {
		ProcessCPUPercent.Set(percent)
	} else {
		log.RatedWarn(60, "collect process cpu percent failed", zap.Error(err))
	}

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		ProcessMemoryRSS.Set(float64(mem.RSS))
	} else if err != nil {
		log.RatedWarn(60, "collect process memory info failed", zap.Error(err))
	}

	ProcessGoroutines.Set(float64(runtime.NumGoroutine()))
}
