package domain

// Selection tracks which rows of a task list are picked for a batch
// decision. The zero value is empty and ready to use.
type Selection struct {
	picked map[string]struct{}
	order  []string
}

func (s *Selection) init() {
	if s.picked == nil {
		s.picked = map[string]struct{}{}
	}
}

func (s *Selection) IsSelected(id string) bool {
	_, ok := s.picked[id]
	return ok
}

func (s *Selection) Toggle(id string) {
	s.init()
	if s.IsSelected(id) {
		delete(s.picked, id)
		return
	}
	s.picked[id] = struct{}{}
	s.order = append(s.order, id)
}

// AllSelected reports whether every id is selected.
func (s *Selection) AllSelected(ids []string) bool {
	for _, id := range ids {
		if !s.IsSelected(id) {
			return false
		}
	}
	return true
}

// ToggleAll selects every id unless all of them already are, in which case
// the selection is cleared.
func (s *Selection) ToggleAll(ids []string) {
	if s.AllSelected(ids) {
		s.Clear()
		return
	}
	s.init()
	for _, id := range ids {
		if !s.IsSelected(id) {
			s.picked[id] = struct{}{}
			s.order = append(s.order, id)
		}
	}
}

func (s *Selection) Clear() {
	s.picked = nil
	s.order = nil
}

func (s *Selection) Len() int { return len(s.picked) }

// Selected returns the picked ids in the order they were first selected.
func (s *Selection) Selected() []string {
	out := make([]string, 0, len(s.picked))
	seen := map[string]bool{}
	for _, id := range s.order {
		if s.IsSelected(id) && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}
