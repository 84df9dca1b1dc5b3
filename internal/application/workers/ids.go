package workers

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/aescanero/canvas/pkg/canvas"
	"github.com/aescanero/canvas/pkg/domain"
)

// idNamespace scopes the name-based ids derived for graph members.
var idNamespace = uuid.MustParse("5b0e6f3c-8d2a-4c1e-9f47-3a6d2e1b7c90")

// Id suffixes for records that hang off a task rather than a composite.
const (
	suffixReplacement = "replacement"
	suffixLink        = "link"
	suffixErrback     = "errback"
)

// DeriveID returns the id of a record derived from parent. The same inputs
// always give the same id, so a redelivered dispatch reuses its records.
func DeriveID(parent, part string) string {
	return uuid.NewSHA1(idNamespace, []byte(parent+"/"+part)).String()
}

// MemberID is the record id of the i-th member of a chain or group, or of
// a chord's header (0) and body (1).
func MemberID(parent string, i int) string {
	return DeriveID(parent, strconv.Itoa(i))
}

// NewRootID returns a fresh, time-ordered id for a submitted graph.
func NewRootID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RecordOptions describes the record created for node under id.
func RecordOptions(node canvas.Node, id, parentID string) domain.CreateOptions {
	opts := domain.CreateOptions{ParentID: parentID}

	switch n := node.(type) {
	case *canvas.Signature:
		opts.TaskName = n.TaskName
	case *canvas.Chain:
		opts.TaskName = string(canvas.KindChain)
		opts.Children = memberIDs(id, len(n.Tasks))
	case *canvas.Group:
		opts.TaskName = string(canvas.KindGroup)
		opts.Children = memberIDs(id, len(n.Tasks))
	case *canvas.Chord:
		opts.TaskName = string(canvas.KindChord)
		opts.Children = memberIDs(id, 2)
	}
	return opts
}

func memberIDs(parent string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = MemberID(parent, i)
	}
	return ids
}
