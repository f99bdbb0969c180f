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
	// #nosec
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// gardenNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	gardenNamespace = "garden"

	// 以下为当前使用的通用标签名。
	sessionTypeLabelName = "session_type" // party 或 game
	messageKindLabelName = "message_kind"
	statusLabelName      = "status" // ok 或 fail
	channelLabelName     = "channel" // ws 或 http
	storeOpLabelName     = "op"      // get、put、delete、list
)

var (
	// buckets 为请求耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192 16384 32768 65536 1.31072e+05]
	buckets = prometheus.ExponentialBuckets(1, 2, 18)

	// fanOutBuckets 为单次广播接收方数量的桶划分。
	fanOutBuckets = []float64{0, 1, 2, 4, 8, 16, 32, 64, 128}

	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: gardenNamespace,
			Name:      "live_connections",
			Help:      "number of currently open websocket connections",
		})

	RegisteredSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: gardenNamespace,
			Name:      "registered_sessions",
			Help:      "number of session codes with at least one live connection",
		}, []string{sessionTypeLabelName})

	MessageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: gardenNamespace,
			Name:      "message_total",
			Help:      "number of dispatched messages by kind, channel and result",
		}, []string{messageKindLabelName, channelLabelName, statusLabelName})

	MessageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: gardenNamespace,
			Name:      "message_latency",
			Help:      "latency of message handling in milliseconds",
			Buckets:   buckets,
		}, []string{messageKindLabelName})

	BroadcastFanOut = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: gardenNamespace,
			Name:      "broadcast_fan_out",
			Help:      "number of live connections each broadcast event was delivered to",
			Buckets:   fanOutBuckets,
		}, []string{sessionTypeLabelName})

	StoreOpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: gardenNamespace,
			Name:      "store_op_latency",
			Help:      "latency of session store operations in milliseconds",
			Buckets:   buckets,
		}, []string{storeOpLabelName, statusLabelName})

	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标。
// 通常应在 init 函数中调用。
func Register(r prometheus.Registerer) {
	r.MustRegister(LiveConnections)
	r.MustRegister(RegisteredSessions)
	r.MustRegister(MessageTotal)
	r.MustRegister(MessageLatency)
	r.MustRegister(BroadcastFanOut)
	r.MustRegister(StoreOpLatency)
	metricRegisterer = r
}
