package queue

// MergeFillBlanks merges incoming payload fields into existing ones, taking
// an incoming value only where the existing field is blank. Already-set
// fields are never overwritten: two sources that learned different facts
// about the same subject both keep what they knew first.
func MergeFillBlanks(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for key, value := range existing {
		merged[key] = value
	}
	for key, value := range incoming {
		if IsBlank(merged[key]) && !IsBlank(value) {
			merged[key] = value
		}
	}
	return merged
}

// IsBlank reports whether a payload value counts as unset for fill-blanks
// purposes.
func IsBlank(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	default:
		return false
	}
}
