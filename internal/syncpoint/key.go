package syncpoint

import (
	"fmt"
	"strconv"
	"strings"
)

// SenderKey identifies a predecessor that has contributed to a sync
// point: the (entity_id, is_update) pair from spec §3. entity_id is a
// string because it names either a resource (its numeric id, decimal
// encoded) or a stack (its uuid), matching entity_id's dual use as the
// stack-level completion barrier's key (spec §4.3.5).
type SenderKey struct {
	EntityID string
	IsUpdate bool
}

const tuplePrefix = "tuple:("

// String renders the key in the wire form carried forward verbatim from
// the original engine ("tuple:(id, bool)"), so existing sync-point rows
// would not need a migration (spec §6, Open Questions).
func (k SenderKey) String() string {
	return fmt.Sprintf("%s%s, %t)", tuplePrefix, k.EntityID, k.IsUpdate)
}

// ParseSenderKey parses the wire form produced by String back into a
// SenderKey. ok is false if s is not a tuple-encoded key (a plain string
// key, used by callers that aren't storing (id, bool) pairs).
func ParseSenderKey(s string) (key SenderKey, ok bool) {
	if !strings.HasPrefix(s, tuplePrefix) || !strings.HasSuffix(s, ")") {
		return SenderKey{}, false
	}
	inner := s[len(tuplePrefix) : len(s)-1]
	parts := strings.SplitN(inner, ", ", 2)
	if len(parts) != 2 {
		return SenderKey{}, false
	}
	isUpdate, err := strconv.ParseBool(parts[1])
	if err != nil {
		return SenderKey{}, false
	}
	return SenderKey{EntityID: parts[0], IsUpdate: isUpdate}, true
}
