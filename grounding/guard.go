package grounding

import (
	"strings"

	"expertpanel-backend/models"
)

// RefusalMessage replaces answers that are not backed by the knowledge base
const RefusalMessage = "I couldn't find enough support in the available reference material to answer this reliably. " +
	"Try rephrasing the question or adding documents that cover this topic."

// Refusal reasons recorded on guarded results
const (
	ReasonNoCitations     = "no_citations"
	ReasonSelfRefusal     = "self_refusal"
	ReasonPhantomMajority = "phantom_majority"
)

// selfRefusalMaxLength limits the self-refusal check to short answers
const selfRefusalMaxLength = 400

// Phrases a model uses when it declines to answer. Generic disclaimers such as
// "consult a professional" are left out on purpose.
var selfRefusalPhrases = []string{
	"i don't have enough information",
	"i do not have enough information",
	"i don't have sufficient information",
	"i cannot answer",
	"i can't answer",
	"i am unable to answer",
	"i'm unable to answer",
	"i don't know",
	"not enough information to answer",
	"the provided sources do not",
	"the provided context does not",
	"the sources provided do not",
	"no relevant information",
}

// Guard applies the refusal policy to a resolved answer. Checks run in order
// and the first match replaces the answer. A result that passes every check,
// or that was already refused, is returned unchanged.
func Guard(r models.CitationResult) models.CitationResult {
	if r.Refused {
		return r
	}

	switch {
	case len(r.Citations) == 0:
		return refuse(r, ReasonNoCitations)
	case isSelfRefusal(r.CleanedAnswer):
		return refuse(r, ReasonSelfRefusal)
	case r.PhantomCount > r.RealRefCount:
		return refuse(r, ReasonPhantomMajority)
	}
	return r
}

func refuse(r models.CitationResult, reason string) models.CitationResult {
	return models.CitationResult{
		CleanedAnswer:  RefusalMessage,
		Citations:      []models.CitationEntry{},
		Confidence:     models.ConfidenceLow,
		PhantomCount:   r.PhantomCount,
		RealRefCount:   r.RealRefCount,
		UnresolvedRefs: r.UnresolvedRefs,
		Refused:        true,
		RefusalReason:  reason,
	}
}

func isSelfRefusal(answer string) bool {
	if len(answer) > selfRefusalMaxLength {
		return false
	}
	lower := strings.ToLower(strings.ReplaceAll(answer, "’", "'"))
	for _, phrase := range selfRefusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
