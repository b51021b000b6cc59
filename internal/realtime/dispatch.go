package realtime

import (
	"context"
	"log"

	"aural-realtime/internal/protocol"
	"aural-realtime/internal/session"
)

// dispatch runs one request against the registry and acks it. Every request
// gets exactly one ack.
func (s *Server) dispatch(ctx context.Context, c *Client, req protocol.Frame) {
	payload, err := s.handleOp(ctx, c, req)
	if err != nil {
		code := session.CodeOf(err)
		msg := err.Error()
		if code == protocol.CodeInternal {
			log.Printf("realtime: %s from %s: %v", req.Op, c.label(), err)
			msg = "internal error"
		}
		s.hub.Send(c, protocol.NewErrorAck(req.ID, req.Op, code, msg))
		return
	}
	ack, err := protocol.NewAck(req.ID, req.Op, payload)
	if err != nil {
		log.Printf("realtime: encode %s ack: %v", req.Op, err)
		s.hub.Send(c, protocol.NewErrorAck(req.ID, req.Op, protocol.CodeInternal, "internal error"))
		return
	}
	s.hub.Send(c, ack)
}

func (s *Server) handleOp(ctx context.Context, c *Client, req protocol.Frame) (any, error) {
	switch req.Op {
	case protocol.OpGetLiveRadios:
		radios := s.reg.ListRadios(ctx)
		if ev, err := protocol.NewEvent(protocol.EventLiveRadios, protocol.TopicRadios, 0, radios); err == nil {
			s.hub.Send(c, ev)
		}
		return radios, nil

	case protocol.OpCreateRadio:
		var p protocol.CreateRadioRequest
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		uid, err := c.identity(p.CreatorID)
		if err != nil {
			return nil, err
		}
		p.CreatorID = uid
		info, err := s.reg.CreateRadio(ctx, p)
		if err != nil {
			return nil, err
		}
		s.hub.Subscribe(c, protocol.RadioTopic(info.RadioID))
		return info, nil

	case protocol.OpDeleteRadio:
		var p protocol.RadioRef
		if err := s.radioRef(c, req, &p); err != nil {
			return nil, err
		}
		if err := s.reg.DeleteRadio(ctx, p); err != nil {
			return nil, err
		}
		return protocol.RadioDeleted{RadioID: p.RadioID}, nil

	case protocol.OpJoinRadio:
		var p protocol.RadioRef
		if err := s.radioRef(c, req, &p); err != nil {
			return nil, err
		}
		topic := protocol.RadioTopic(p.RadioID)
		// Subscribe first so no broadcast after the join snapshot is missed.
		s.hub.Subscribe(c, topic)
		info, err := s.reg.JoinRadio(ctx, p)
		if err != nil {
			s.hub.Unsubscribe(c, topic)
			return nil, err
		}
		if ev, err := protocol.NewEvent(protocol.EventRadioJoined, topic, info.Seq, info); err == nil {
			s.hub.Send(c, ev)
		}
		return info, nil

	case protocol.OpLeaveRadio:
		var p protocol.RadioRef
		if err := s.radioRef(c, req, &p); err != nil {
			return nil, err
		}
		s.hub.Unsubscribe(c, protocol.RadioTopic(p.RadioID))
		return s.reg.LeaveRadio(ctx, p)

	case protocol.OpRadioPlay:
		var p protocol.RadioRef
		if err := s.radioRef(c, req, &p); err != nil {
			return nil, err
		}
		return s.reg.Play(ctx, p)

	case protocol.OpPauseSong:
		var p protocol.RadioRef
		if err := s.radioRef(c, req, &p); err != nil {
			return nil, err
		}
		return s.reg.Pause(ctx, p)

	case protocol.OpSyncTime:
		var p protocol.SyncTimeRequest
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		uid, err := c.identity(p.UserID)
		if err != nil {
			return nil, err
		}
		p.UserID = uid
		return s.reg.SyncTime(ctx, p)

	case protocol.OpUpdateSong:
		var p protocol.UpdateSongRequest
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		uid, err := c.identity(p.UserID)
		if err != nil {
			return nil, err
		}
		p.UserID = uid
		return s.reg.UpdateSong(ctx, p)

	case protocol.OpGetJams:
		return s.reg.ListJams(ctx), nil

	case protocol.OpCreateJam:
		var p protocol.CreateJamRequest
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		uid, err := c.identity(p.CreatorID)
		if err != nil {
			return nil, err
		}
		p.CreatorID = uid
		info, err := s.reg.CreateJam(ctx, p)
		if err != nil {
			return nil, err
		}
		s.hub.Subscribe(c, protocol.JamTopic(info.JamID))
		return info, nil

	case protocol.OpJoinJam:
		var p protocol.JamRef
		if err := s.jamRef(c, req, &p); err != nil {
			return nil, err
		}
		topic := protocol.JamTopic(p.JamID)
		s.hub.Subscribe(c, topic)
		info, err := s.reg.JoinJam(ctx, p)
		if err != nil {
			s.hub.Unsubscribe(c, topic)
			return nil, err
		}
		return info, nil

	case protocol.OpAddSongToJam:
		var p protocol.AddSongRequest
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		uid, err := c.identity(p.UserID)
		if err != nil {
			return nil, err
		}
		p.UserID = uid
		return s.reg.AddSongToJam(ctx, p)

	case protocol.OpLeaveJam:
		var p protocol.JamRef
		if err := s.jamRef(c, req, &p); err != nil {
			return nil, err
		}
		s.hub.Unsubscribe(c, protocol.JamTopic(p.JamID))
		return s.reg.LeaveJam(ctx, p)

	case protocol.OpDeleteJam:
		var p protocol.JamRef
		if err := s.jamRef(c, req, &p); err != nil {
			return nil, err
		}
		if err := s.reg.DeleteJam(ctx, p); err != nil {
			return nil, err
		}
		return protocol.JamDeleted{JamID: p.JamID}, nil

	case protocol.OpSubscribe, protocol.OpUnsubscribe:
		var p protocol.TopicRequest
		if err := decode(req, &p); err != nil {
			return nil, err
		}
		if !protocol.ValidTopic(p.Topic) {
			return nil, &session.Error{Code: protocol.CodeInvalidArgument, Msg: "unknown topic " + p.Topic}
		}
		if req.Op == protocol.OpSubscribe {
			s.hub.Subscribe(c, p.Topic)
		} else {
			s.hub.Unsubscribe(c, p.Topic)
		}
		return p, nil
	}
	return nil, &session.Error{Code: protocol.CodeInvalidArgument, Msg: "unknown op " + req.Op}
}

func (s *Server) radioRef(c *Client, req protocol.Frame, p *protocol.RadioRef) error {
	if err := decode(req, p); err != nil {
		return err
	}
	uid, err := c.identity(p.UserID)
	if err != nil {
		return err
	}
	p.UserID = uid
	return nil
}

func (s *Server) jamRef(c *Client, req protocol.Frame, p *protocol.JamRef) error {
	if err := decode(req, p); err != nil {
		return err
	}
	uid, err := c.identity(p.UserID)
	if err != nil {
		return err
	}
	p.UserID = uid
	return nil
}

func decode(req protocol.Frame, v any) error {
	if err := req.Decode(v); err != nil {
		return &session.Error{Code: protocol.CodeInvalidArgument, Msg: "malformed payload"}
	}
	return nil
}

// identity resolves the acting user. An authenticated connection acts as its
// token's user and may not claim anyone else.
func (c *Client) identity(claimed string) (string, error) {
	if c.userID == "" {
		return claimed, nil
	}
	if claimed != "" && claimed != c.userID {
		return "", session.ErrUnauthenticated
	}
	return c.userID, nil
}
