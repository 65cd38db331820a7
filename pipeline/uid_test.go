package pipeline

import (
	"strings"
	"testing"

	"dqa360/utils"

	"github.com/stretchr/testify/assert"
)

func TestUIDGenShapeAndUniqueness(t *testing.T) {
	gen := NewUIDGen("testRunUid1")
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		uid := gen.UID()
		assert.True(t, utils.ValidUIDPattern.MatchString(uid), "uid %q has wrong shape", uid)
		assert.False(t, seen[uid], "uid %q issued twice", uid)
		seen[uid] = true
	}
}

func TestUIDGenCodesUniqueWithPrefix(t *testing.T) {
	gen := NewUIDGen("testRunUid1")
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := gen.Code("DQA_REG_", 50)
		assert.True(t, strings.HasPrefix(code, "DQA_REG_"))
		assert.LessOrEqual(t, len(code), 50)
		assert.False(t, seen[code], "code %q issued twice", code)
		seen[code] = true
	}
}

func TestSmsLetterCodeSequence(t *testing.T) {
	cases := map[int]string{
		0:  "A",
		1:  "B",
		25: "Z",
		26: "AA",
		27: "AB",
		51: "AZ",
		52: "BA",
	}
	for input, expected := range cases {
		assert.Equal(t, expected, smsLetterCode(input))
	}
}
