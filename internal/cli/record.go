package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/graphstore/internal/storage"
	"github.com/roach88/graphstore/internal/value"
)

// recordView is the output form of one object.
type recordView struct {
	Entity  string    `json:"entity"`
	Key     string    `json:"key"`
	Version int64     `json:"version"`
	Props   value.Map `json:"props"`
}

func newRecordView(rec storage.Record) recordView {
	props := rec.Props
	if props == nil {
		props = value.Map{}
	}
	return recordView{
		Entity:  rec.ID.Entity,
		Key:     rec.ID.Key,
		Version: rec.Version,
		Props:   props,
	}
}

func (r recordView) Text() string {
	props, err := value.MarshalCanonical(r.Props)
	if err != nil {
		props = []byte("{}")
	}
	return fmt.Sprintf("%s/%s v%d %s", r.Entity, r.Key, r.Version, props)
}

type recordList []recordView

func (l recordList) Text() string {
	if len(l) == 0 {
		return "no objects"
	}
	lines := make([]string, len(l))
	for i, r := range l {
		lines[i] = r.Text()
	}
	return strings.Join(lines, "\n")
}

// savedView reports the object a mutating command touched.
type savedView struct {
	Action string `json:"action"`
	Entity string `json:"entity"`
	Key    string `json:"key"`
}

func (s savedView) Text() string {
	return fmt.Sprintf("%s %s/%s", s.Action, s.Entity, s.Key)
}

// parseProps decodes a --props JSON object.
func parseProps(raw string) (value.Map, error) {
	props, err := value.DecodeMap([]byte(raw))
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --props: %v", err))
	}
	return props, nil
}
