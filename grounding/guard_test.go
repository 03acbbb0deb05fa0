package grounding

import (
	"strings"
	"testing"

	"expertpanel-backend/models"

	"github.com/stretchr/testify/assert"
)

func TestGuard_PassesGroundedAnswer(t *testing.T) {
	in := Resolve("Use 45mm cover [Source 1] with C30 concrete [Source 2].", testChunks(2))
	out := Guard(in)

	assert.Equal(t, in, out)
	assert.False(t, out.Refused)
}

func TestGuard_NoCitations(t *testing.T) {
	out := Guard(Resolve("Use 45mm cover.", testChunks(2)))

	assert.True(t, out.Refused)
	assert.Equal(t, ReasonNoCitations, out.RefusalReason)
	assert.Equal(t, RefusalMessage, out.CleanedAnswer)
	assert.Empty(t, out.Citations)
	assert.Equal(t, models.ConfidenceLow, out.Confidence)
}

func TestGuard_ShortSelfRefusal(t *testing.T) {
	out := Guard(Resolve("I don't have enough information to say [Source 1].", testChunks(1)))

	assert.True(t, out.Refused)
	assert.Equal(t, ReasonSelfRefusal, out.RefusalReason)
}

func TestGuard_LongAnswerWithDisclaimerIsKept(t *testing.T) {
	body := strings.Repeat("Cover depends on exposure class and member type [Source 1]. ", 8)
	in := Resolve(body+"Consult a professional engineer for final design [Source 2].", testChunks(2))
	out := Guard(in)

	assert.False(t, out.Refused)
	assert.Equal(t, in, out)
}

func TestGuard_LongAnswerMentioningRefusalPhraseIsKept(t *testing.T) {
	body := strings.Repeat("The code sets 45mm cover for coastal members [Source 1]. ", 10)
	out := Guard(Resolve(body+"The provided sources do not cover precast elements [Source 2].", testChunks(2)))

	assert.False(t, out.Refused)
}

func TestGuard_PhantomMajority(t *testing.T) {
	out := Guard(Resolve("A [Source 1]. B [Source 7]. C [Source 8].", testChunks(1)))

	assert.True(t, out.Refused)
	assert.Equal(t, ReasonPhantomMajority, out.RefusalReason)
	assert.Equal(t, 2, out.PhantomCount)
}

func TestGuard_Idempotent(t *testing.T) {
	inputs := []models.CitationResult{
		Resolve("Use 45mm cover [Source 1].", testChunks(1)),
		Resolve("A [Source 1] and B [Source 2].", testChunks(2)),
		Resolve("Nothing cited.", testChunks(1)),
		Resolve("A [Source 1]. B [Source 7]. C [Source 8].", testChunks(1)),
	}

	for _, in := range inputs {
		once := Guard(in)
		assert.Equal(t, once, Guard(once))
	}
}
