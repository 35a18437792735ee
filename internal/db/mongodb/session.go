package mongodb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kailas-cloud/minq/internal/db"
)

type session struct {
	sess mongo.Session
	id   string
}

func newSession(s mongo.Session) *session {
	return &session{sess: s, id: sessionID(s)}
}

// sessionID extracts the server session UUID for log correlation.
func sessionID(s mongo.Session) string {
	raw := s.ID()
	if v, err := raw.LookupErr("id"); err == nil {
		if sub, data, ok := v.BinaryOK(); ok && sub == 0x04 {
			if id, err := uuid.FromBytes(data); err == nil {
				return id.String()
			}
		}
	}
	return uuid.NewString()
}

func (s *session) ID() string { return s.id }

func (s *session) Commit(ctx context.Context) error {
	if err := s.sess.CommitTransaction(ctx); err != nil {
		return &db.Error{Op: db.OpCommit, Err: mapError(err)}
	}
	return nil
}

func (s *session) Abort(ctx context.Context) error {
	if err := s.sess.AbortTransaction(ctx); err != nil {
		return &db.Error{Op: db.OpAbort, Err: mapError(err)}
	}
	return nil
}

func (s *session) End(ctx context.Context) {
	s.sess.EndSession(ctx)
}

// bind attaches sess to ctx so driver calls run inside its transaction.
func bind(ctx context.Context, sess db.Session) (context.Context, error) {
	if sess == nil {
		return ctx, nil
	}
	s, ok := sess.(*session)
	if !ok {
		return nil, fmt.Errorf("session %T does not belong to the mongodb engine", sess)
	}
	return mongo.NewSessionContext(ctx, s.sess), nil
}
