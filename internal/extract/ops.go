package extract

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/memvra/memory-agent/internal/memory"
)

// OpKind tags an Op.
type OpKind int

const (
	OpCreate OpKind = iota
	OpUpdate
)

func (k OpKind) String() string {
	if k == OpUpdate {
		return "update"
	}
	return "create"
}

// Op is one operation proposed by the extractor. TargetID is set only for
// OpUpdate. HasImportance records whether the extractor gave an importance;
// an update without one keeps the stored value.
type Op struct {
	Kind          OpKind
	TargetID      int64
	Content       string
	Importance    int
	HasImportance bool
	MemoryType    memory.MemoryType
	TopicTags     []string
}

// ParseOps turns an extractor response into at most five operations. Items
// without content are skipped and updates without a usable target become
// creates. Unparseable output yields an error wrapping ErrMalformedOutput.
func ParseOps(raw string) ([]Op, error) {
	var items []any
	if err := decodeLenient(raw, '[', ']', &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	var ops []Op
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		op, ok := opFromItem(obj)
		if !ok {
			continue
		}
		ops = append(ops, op)
		if len(ops) == maxOps {
			break
		}
	}
	return ops, nil
}

func opFromItem(obj map[string]any) (Op, bool) {
	content, _ := obj["content"].(string)
	content = strings.TrimSpace(content)
	if content == "" {
		return Op{}, false
	}
	op := Op{
		Kind:       OpCreate,
		Content:    content,
		Importance: memory.DefaultImportance,
		MemoryType: memory.TypeGeneral,
		TopicTags:  []string{},
	}
	if kind, _ := obj["op"].(string); strings.EqualFold(kind, "update") {
		id, ok := asInt(obj["memory_id"])
		if !ok || id <= 0 {
			id, ok = asInt(obj["target_id"])
		}
		if ok && id > 0 {
			op.Kind = OpUpdate
			op.TargetID = id
		}
	}
	if imp, ok := asInt(obj["importance"]); ok {
		op.Importance = memory.ClampImportance(int(imp))
		op.HasImportance = true
	}
	if t, ok := obj["memory_type"].(string); ok {
		op.MemoryType = memory.NormalizeType(t)
	}
	if tags, ok := obj["topic_tags"].([]any); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok && strings.TrimSpace(s) != "" {
				op.TopicTags = append(op.TopicTags, strings.TrimSpace(s))
			}
		}
	}
	return op, true
}

// asInt accepts JSON numbers and numeric strings.
func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	}
	return 0, false
}
