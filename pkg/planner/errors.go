package planner

import (
	"errors"

	"github.com/ceci-ai/botchain/pkg/dispatch"
	"github.com/ceci-ai/botchain/pkg/stages"
	"github.com/ceci-ai/botchain/pkg/store"
)

// Planner-level error kinds, completing the dispatcher's taxonomy.
const (
	KindConversationBusy = "conversation_busy"
	KindStoreUnavailable = "store_unavailable"
	KindInternal         = "internal"
)

// errorKindOf maps any error surfacing inside a turn to its taxonomy kind.
func errorKindOf(err error) string {
	if kind := dispatch.KindOf(err); kind != "" {
		return string(kind)
	}
	switch {
	case errors.Is(err, store.ErrConversationBusy):
		return KindConversationBusy
	case errors.Is(err, store.ErrBackendUnavailable):
		return KindStoreUnavailable
	default:
		return KindInternal
	}
}

// User-visible failures are always formatted Hebrew messages. Internal
// diagnostics go to the structured log, never to the stream.
var apologies = map[string]string{
	string(dispatch.KindTransientUpstream): "מצטערים, אירעה תקלה זמנית בעיבוד הבקשה. אנא נסו שוב בעוד מספר רגעים.",
	string(dispatch.KindStageMalformed):    "מצטערים, לא הצלחנו לעבד את הבקשה. אנא נסו לנסח אותה מחדש.",
	string(dispatch.KindStageRefused):      "מצטערים, אירעה שגיאה בעיבוד הבקשה. אנא נסו שוב.",
	string(dispatch.KindDeadlineExceeded):  "מצטערים, הטיפול בבקשה ארך זמן רב מדי. אנא נסו שוב.",
	KindConversationBusy:                   "השיחה מטופלת כעת. אנא נסו שוב בעוד רגע.",
	KindStoreUnavailable:                   "מצטערים, אירעה תקלה זמנית בשמירת השיחה. אנא נסו שוב.",
	KindInternal:                           "מצטערים, אירעה שגיאה בלתי צפויה. אנא נסו שוב.",
}

// apologyFor returns the Hebrew apology for an error kind.
func apologyFor(kind string) string {
	if msg, ok := apologies[kind]; ok {
		return msg
	}
	return apologies[KindInternal]
}

// fallbackClarifyQuestion is streamed when the CLARIFY stage itself fails.
const fallbackClarifyQuestion = "לא הצלחתי להבין את הבקשה. אפשר לנסח אותה מחדש?"

// emptyResultFallback is streamed when FORMAT fails on an empty result set.
const emptyResultFallback = "לא נמצאו החלטות התואמות את הבקשה."

// stageProgress is the human-readable hint emitted before each stage runs.
var stageProgress = map[stages.Name]string{
	stages.Rewrite: "מנסח מחדש את השאלה...",
	stages.Intent:  "מזהה את כוונת השאלה...",
	stages.SQLGen:  "בונה שאילתה...",
	stages.SQLExec: "מחפש במאגר ההחלטות...",
	stages.Rank:    "מדרג את התוצאות...",
	stages.Eval:    "מנתח את ההחלטה...",
	stages.Clarify: "מנסח שאלת הבהרה...",
	stages.Format:  "מעצב את התשובה...",
}
