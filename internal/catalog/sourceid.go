package catalog

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sourceIDRe = regexp.MustCompile(`^[1-9][0-9]{0,17}$`)

func ValidateSourceID(id string) error {
	if !sourceIDRe.MatchString(id) {
		return fmt.Errorf("invalid source id %q", id)
	}
	return nil
}

// ParseSourceIDs accepts ids sent either as JSON numbers or numeric strings.
func ParseSourceIDs(raw []json.RawMessage) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		s := strings.Trim(strings.TrimSpace(string(r)), `"`)
		if err := ValidateSourceID(s); err != nil {
			return nil, err
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid source id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
