package dispatch

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/internal/registry"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/metrics"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/typeutil"
)

// broadcast 将事件扇出到会话码下的所有存活连接。
//
// exclude 按参与者 ID 排除接收方（成员状态事件排除发送方本人，
// Game 实体事件不传 exclude，发送方同样收到）。
// 单条连接发送失败只记日志，不影响其余接收方；失败连接的清理由
// 其读循环退出时统一完成。
func (d *Dispatcher) broadcast(st registry.SessionType, code string, event any, exclude ...string) {
	excluded := typeutil.NewSet(exclude...)

	delivered := 0
	for _, e := range d.reg.Snapshot(code) {
		if excluded.Contain(e.ParticipantID) {
			continue
		}
		if err := e.Sender.Send(event); err != nil {
			log.RatedWarn(10, "broadcast to connection failed",
				zap.String("code", code),
				zap.Uint64("conn", e.Sender.ID()),
				zap.Error(err))
			continue
		}
		delivered++
	}

	metrics.BroadcastFanOut.WithLabelValues(string(st)).Observe(float64(delivered))
}
