package reconcile

import (
	"strconv"

	"github.com/theirongolddev/callpulse/internal/crm"
)

// CountTaggedLeads counts non-deleted leads whose tracked field holds enumID
// or text, per responsible operator.
func CountTaggedLeads(leads []crm.Lead, fieldID, enumID int64, text string, operatorMap map[string]string) map[string]int64 {
	out := make(map[string]int64)
	for _, l := range leads {
		if l.IsDeleted || l.ResponsibleUserID <= 0 || !l.HasEnum(fieldID, enumID, text) {
			continue
		}
		id := strconv.FormatInt(l.ResponsibleUserID, 10)
		if mapped, ok := operatorMap[id]; ok && mapped != "" {
			id = mapped
		}
		out[id]++
	}
	return out
}
