package pipeline

import (
	"strings"
	"sync"

	"dqa360/utils"
)

// UIDGen hands out identifiers and codes that are unique within one run.
// The used sets belong to the generator, so concurrent runs never share
// state. Optional persistence hooks let the caller avoid UIDs issued by
// previous runs and record newly issued ones.
type UIDGen struct {
	mu        sync.Mutex
	runUID    string
	isUsed    func(uid string) bool
	onIssue   func(uid, runUID string)
	usedUIDs  map[string]bool
	usedCodes map[string]bool
}

// NewUIDGen returns a generator scoped to one run
func NewUIDGen(runUID string) *UIDGen {
	return &UIDGen{
		runUID:    runUID,
		usedUIDs:  make(map[string]bool),
		usedCodes: make(map[string]bool),
	}
}

// WithPersistence wires the cross-run used-UID check and the hook called
// for every issued UID. Both are best effort.
func (g *UIDGen) WithPersistence(isUsed func(uid string) bool, onIssue func(uid, runUID string)) *UIDGen {
	g.isUsed = isUsed
	g.onIssue = onIssue
	return g
}

// UID returns a fresh 11 character identifier not seen before in this run
func (g *UIDGen) UID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		uid := utils.GetUID()
		if g.usedUIDs[uid] {
			continue
		}
		if g.isUsed != nil && g.isUsed(uid) {
			continue
		}
		g.usedUIDs[uid] = true
		if g.onIssue != nil {
			g.onIssue(uid, g.runUID)
		}
		return uid
	}
}

// Code returns a code with the given prefix, unique within the run and
// capped at maxLen characters
func (g *UIDGen) Code(prefix string, maxLen int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		code := utils.GenerateCode(strings.ToUpper(prefix), maxLen)
		if g.usedCodes[code] {
			continue
		}
		g.usedCodes[code] = true
		return code
	}
}
