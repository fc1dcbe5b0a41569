package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback actions carried in inline button data as "<action>_<reminder id>".
const (
	actionComplete = "complete"
	actionSkip     = "skip"
	actionDismiss  = "dismiss"
	actionPostpone = "postpone"
	actionAddNote  = "addnote"
	actionAnswer   = "answer"
)

var knownActions = map[string]bool{
	actionComplete: true,
	actionSkip:     true,
	actionDismiss:  true,
	actionPostpone: true,
	actionAddNote:  true,
	actionAnswer:   true,
}

func callbackData(action string, reminderID int64) string {
	return action + "_" + strconv.FormatInt(reminderID, 10)
}

// parseCallback splits button data into its action and reminder id.
func parseCallback(data string) (string, int64, error) {
	i := strings.LastIndexByte(data, '_')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed callback data %q", data)
	}
	action := data[:i]
	if !knownActions[action] {
		return "", 0, fmt.Errorf("unknown callback action %q", action)
	}
	id, err := strconv.ParseInt(data[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid reminder id in callback data %q", data)
	}
	return action, id, nil
}
