package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/callgate/callgate/internal/db"
)

// Source supplies the declarative route definition. A load failure
// aborts the whole compilation and leaves the previous table in effect.
type Source interface {
	Load(ctx context.Context) (Definition, error)
}

// StaticSource serves a definition from configuration.
type StaticSource struct {
	Routes Definition
}

func (s StaticSource) Load(context.Context) (Definition, error) {
	if s.Routes == nil {
		return Definition{}, nil
	}
	return s.Routes, nil
}

// QuerySource bootstraps the definition from the database itself: the
// index procedure returns the whole mapping as one JSON document.
type QuerySource struct {
	DB             *db.Service
	IndexProcedure string
}

func (s QuerySource) Load(ctx context.Context) (Definition, error) {
	var def Definition
	err := s.DB.Do(ctx, func(sess *db.Session) error {
		ret, err := sess.Invoke(ctx, s.IndexProcedure, db.DestType{Kind: db.KindVarchar}, nil)
		if err != nil {
			return err
		}
		text, ok := ret.(string)
		if !ok {
			return fmt.Errorf("router: index procedure %s returned %T, want string", s.IndexProcedure, ret)
		}
		return json.Unmarshal([]byte(text), &def)
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}
