// Package registry 维护本进程内的存活连接索引。
//
// 索引只记录“哪些连接正关注哪个会话码”，不持有任何会话状态：
// 会话快照始终以存储层为准，进程重启后索引自然重建。
package registry

import (
	"sync"

	"github.com/lk2023060901/tabletop-garden-go/pkg/metrics"
)

// SessionType 区分会话种类，用于指标标签与日志。
type SessionType string

const (
	SessionParty SessionType = "party"
	SessionGame  SessionType = "game"
)

// Sender 为注册表对一条连接的最小要求。
// Send 必须并发安全且不阻塞注册表（实现侧使用发送队列）。
type Sender interface {
	ID() uint64
	Send(msg any) error
}

// Entry 为一条已注册连接的快照。
type Entry struct {
	Sender        Sender
	SessionType   SessionType
	Code          string
	ParticipantID string
}

// Registry 提供并发安全的 连接 <-> 会话码 双向索引。
//
// 特性：
//   - 使用读写锁保证并发安全；
//   - 同一连接重复 Register 会先解除旧的绑定（重连与换会话场景）；
//   - Snapshot 在持锁期间仅复制切片，广播回调在锁外执行。
type Registry struct {
	mu     sync.RWMutex
	byCode map[string]map[uint64]Entry
	byConn map[uint64]string
}

// New 创建一个空的 Registry。
func New() *Registry {
	return &Registry{
		byCode: make(map[string]map[uint64]Entry),
		byConn: make(map[uint64]string),
	}
}

// Register 将连接绑定到指定会话码。
// 若该连接此前绑定过其他会话码，旧绑定会被解除。
func (r *Registry) Register(st SessionType, code, participantID string, s Sender) {
	if s == nil || code == "" {
		return
	}
	id := s.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[id]; ok && prev != code {
		r.removeLocked(id, prev)
	}

	conns, ok := r.byCode[code]
	if !ok {
		conns = make(map[uint64]Entry)
		r.byCode[code] = conns
	}
	conns[id] = Entry{
		Sender:        s,
		SessionType:   st,
		Code:          code,
		ParticipantID: participantID,
	}
	r.byConn[id] = code

	r.updateGauges()
}

// Unregister 解除连接的绑定，返回连接此前绑定的会话码。
// 未绑定的连接返回空串，重复调用无副作用。
func (r *Registry) Unregister(connID uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.byConn[connID]
	if !ok {
		return ""
	}
	r.removeLocked(connID, code)
	r.updateGauges()
	return code
}

// Lookup 返回连接当前的绑定信息。
func (r *Registry) Lookup(connID uint64) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, ok := r.byConn[connID]
	if !ok {
		return Entry{}, false
	}
	e, ok := r.byCode[code][connID]
	return e, ok
}

// Snapshot 返回会话码下所有存活连接的快照。
func (r *Registry) Snapshot(code string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byCode[code]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(conns))
	for _, e := range conns {
		out = append(out, e)
	}
	return out
}

// Count 返回会话码下的存活连接数。
func (r *Registry) Count(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCode[code])
}

func (r *Registry) removeLocked(connID uint64, code string) {
	if conns, ok := r.byCode[code]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byCode, code)
		}
	}
	delete(r.byConn, connID)
}

// updateGauges 重算各会话类型下仍有存活连接的会话码数量。
// 必须在持写锁时调用。
func (r *Registry) updateGauges() {
	var parties, games int
	for _, conns := range r.byCode {
		for _, e := range conns {
			switch e.SessionType {
			case SessionParty:
				parties++
			case SessionGame:
				games++
			}
			break
		}
	}
	metrics.RegisteredSessions.WithLabelValues(string(SessionParty)).Set(float64(parties))
	metrics.RegisteredSessions.WithLabelValues(string(SessionGame)).Set(float64(games))
}
