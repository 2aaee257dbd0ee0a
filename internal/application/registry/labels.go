package registry

import (
	"strings"

	"github.com/Marketen/validator-watcher/internal/application/domain"
)

// LabelSetID identifies an interned label set. Most validators share one of a
// handful of sets, so records store the ID instead of their own slice.
type LabelSetID uint32

// LabelSet keeps structural scope labels apart from operator labels.
type LabelSet struct {
	Structural []string
	User       []string
	// All is Structural followed by User, without duplicates.
	All []string
}

type labelInterner struct {
	sets []LabelSet
	ids  map[string]LabelSetID
}

func newLabelInterner() *labelInterner {
	return &labelInterner{ids: make(map[string]LabelSetID)}
}

func (li *labelInterner) intern(structural, user []string) LabelSetID {
	key := strings.Join(structural, "\x00") + "\x01" + strings.Join(user, "\x00")
	if id, ok := li.ids[key]; ok {
		return id
	}

	all := make([]string, 0, len(structural)+len(user))
	all = append(all, structural...)
	all = append(all, user...)
	set := LabelSet{
		Structural: structural,
		User:       user,
		All:        all,
	}
	id := LabelSetID(len(li.sets))
	li.sets = append(li.sets, set)
	li.ids[key] = id
	return id
}

// labelsFor builds the label set of a key: scope:all-network always, then either
// scope:watched plus the configured labels, or scope:network.
func (li *labelInterner) labelsFor(configured []string, watched bool) LabelSetID {
	if !watched {
		return li.intern([]string{domain.LabelAllNetwork, domain.LabelNetwork}, nil)
	}

	structural := []string{domain.LabelAllNetwork, domain.LabelWatched}
	seen := map[string]struct{}{
		domain.LabelAllNetwork: {},
		domain.LabelWatched:    {},
	}
	var user []string
	for _, l := range configured {
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		user = append(user, l)
	}
	return li.intern(structural, user)
}
