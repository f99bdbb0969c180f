package dispatch

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/internal/gamecode"
	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/internal/registry"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// handlePartyCreate 创建一个新的小队会话，创建者自动成为首名成员。
func (d *Dispatcher) handlePartyCreate(ctx context.Context, channel string, conn Conn, msg *Message) error {
	if msg.CharacterData == nil || msg.CharacterData.ID == "" {
		return merr.WrapErrMissingField("characterData")
	}

	now := d.now().UnixMilli()
	party := &model.Party{
		Code: gamecode.NewPartyCode(),
		Members: []model.PartyMember{{
			CharacterID:   msg.CharacterData.ID,
			CharacterData: *msg.CharacterData,
			LastSeen:      now,
		}},
		CreatedAt:   now,
		LastUpdated: now,
	}

	if err := d.store.PutParty(ctx, party); err != nil {
		return err
	}

	d.register(channel, registry.SessionParty, party.Code, msg.CharacterData.ID, conn)
	return conn.Send(partyEvent{Type: ReplyPartyCreated, PartyData: party})
}

// handlePartyJoin 加入已存在的小队。
// 角色已在快照中时视为重连：只重新注册连接并回放快照，不追加成员、不广播。
func (d *Dispatcher) handlePartyJoin(ctx context.Context, channel string, conn Conn, msg *Message) error {
	if msg.PartyCode == "" {
		return merr.WrapErrMissingField("partyCode")
	}
	if msg.CharacterData == nil || msg.CharacterData.ID == "" {
		return merr.WrapErrMissingField("characterData")
	}

	party, err := d.store.GetParty(ctx, msg.PartyCode)
	if err != nil {
		return err
	}

	now := d.now().UnixMilli()
	characterID := msg.CharacterData.ID

	if existing := party.FindMember(characterID); existing != nil {
		existing.LastSeen = now
		if err := d.store.PutParty(ctx, party); err != nil {
			return err
		}
		d.register(channel, registry.SessionParty, party.Code, characterID, conn)
		return conn.Send(partyEvent{Type: ReplyMemberJoined, PartyData: party})
	}

	party.Members = append(party.Members, model.PartyMember{
		CharacterID:   characterID,
		CharacterData: *msg.CharacterData,
		LastSeen:      now,
	})
	party.LastUpdated = now

	if err := d.store.PutParty(ctx, party); err != nil {
		return err
	}

	d.register(channel, registry.SessionParty, party.Code, characterID, conn)
	if err := conn.Send(partyEvent{Type: ReplyMemberJoined, PartyData: party}); err != nil {
		return err
	}

	d.broadcast(registry.SessionParty, party.Code,
		partyEvent{Type: ReplyMemberJoined, PartyData: party}, characterID)
	return nil
}

// handlePartyUpdate 整体替换一名成员的角色数据。
func (d *Dispatcher) handlePartyUpdate(ctx context.Context, conn Conn, msg *Message) error {
	member, err := memberFromMessage(msg, d.now().UnixMilli())
	if err != nil {
		return err
	}

	party, err := d.applyMemberUpdate(ctx, msg.PartyCode, member)
	if err != nil {
		return err
	}

	if err := conn.Send(partyEvent{Type: ReplyMemberUpdated, PartyData: party}); err != nil {
		return err
	}
	d.broadcast(registry.SessionParty, party.Code,
		partyEvent{Type: ReplyMemberUpdated, PartyData: party}, member.CharacterID)
	return nil
}

// handleRollInitiative 与 update 语义相同，但出站消息额外携带骰点结果，
// 供其余成员触发先攻提示。
func (d *Dispatcher) handleRollInitiative(ctx context.Context, conn Conn, msg *Message) error {
	member, err := memberFromMessage(msg, d.now().UnixMilli())
	if err != nil {
		return err
	}

	party, err := d.applyMemberUpdate(ctx, msg.PartyCode, member)
	if err != nil {
		return err
	}

	event := partyEvent{
		Type:           ReplyInitiativeRolled,
		PartyData:      party,
		CharacterID:    member.CharacterID,
		InitiativeRoll: member.CharacterData.InitiativeRoll,
	}
	if err := conn.Send(event); err != nil {
		return err
	}
	d.broadcast(registry.SessionParty, party.Code, event, member.CharacterID)
	return nil
}

// handlePartyHeartbeat 只刷新成员的 lastSeen。
// 心跳从不回复；未知小队或成员静默忽略，存储失败只记日志。
func (d *Dispatcher) handlePartyHeartbeat(ctx context.Context, msg *Message) error {
	if msg.PartyCode == "" || msg.CharacterID == "" {
		return nil
	}

	party, err := d.store.GetParty(ctx, msg.PartyCode)
	if err != nil {
		log.Ctx(ctx).RatedDebug(10, "heartbeat for unknown party",
			zap.String("party", msg.PartyCode))
		return nil
	}

	member := party.FindMember(msg.CharacterID)
	if member == nil {
		return nil
	}
	member.LastSeen = d.now().UnixMilli()

	if err := d.store.PutParty(ctx, party); err != nil {
		log.Ctx(ctx).Warn("persist heartbeat failed",
			zap.String("party", msg.PartyCode),
			zap.Error(err))
	}
	return nil
}

// handlePartyLeave 将成员移出小队。
// 操作幂等：重复离开、未知小队均回复成功；最后一名成员离开后，
// 快照带宽限 TTL 落库而非删除，便于误退重进。
func (d *Dispatcher) handlePartyLeave(ctx context.Context, channel string, conn Conn, msg *Message) error {
	if msg.PartyCode == "" || msg.CharacterID == "" {
		return merr.WrapErrMissingField("partyCode", "characterId")
	}

	d.unregister(channel, conn)

	party, err := d.store.GetParty(ctx, msg.PartyCode)
	if err != nil {
		if errors.Is(err, merr.ErrSessionNotFound) {
			return conn.Send(partyEvent{Type: ReplyLeftParty})
		}
		return err
	}

	if party.RemoveMember(msg.CharacterID) {
		party.LastUpdated = d.now().UnixMilli()
		if err := d.store.PutParty(ctx, party); err != nil {
			return err
		}
		d.broadcast(registry.SessionParty, party.Code,
			partyEvent{Type: ReplyMemberLeft, PartyData: party}, msg.CharacterID)
	}

	return conn.Send(partyEvent{Type: ReplyLeftParty})
}

// applyMemberUpdate 对小队执行一次成员级读-改-写。
func (d *Dispatcher) applyMemberUpdate(ctx context.Context, code string, member *model.PartyMember) (*model.Party, error) {
	party, err := d.store.GetParty(ctx, code)
	if err != nil {
		return nil, err
	}

	existing := party.FindMember(member.CharacterID)
	if existing == nil {
		return nil, merr.WrapErrMemberNotFound(code, member.CharacterID)
	}
	*existing = *member
	party.LastUpdated = d.now().UnixMilli()

	if err := d.store.PutParty(ctx, party); err != nil {
		return nil, err
	}
	return party, nil
}

// memberFromMessage 从信封中提取成员载荷。
// 客户端的 update/roll_initiative 携带完整 partyMember；characterData 作为兼容回退。
func memberFromMessage(msg *Message, now int64) (*model.PartyMember, error) {
	if msg.PartyCode == "" {
		return nil, merr.WrapErrMissingField("partyCode")
	}

	switch {
	case msg.PartyMember != nil && msg.PartyMember.CharacterID != "":
		m := *msg.PartyMember
		if m.LastSeen == 0 {
			m.LastSeen = now
		}
		return &m, nil
	case msg.CharacterData != nil && msg.CharacterData.ID != "":
		return &model.PartyMember{
			CharacterID:   msg.CharacterData.ID,
			CharacterData: *msg.CharacterData,
			LastSeen:      now,
		}, nil
	default:
		return nil, merr.WrapErrMissingField("partyMember")
	}
}
