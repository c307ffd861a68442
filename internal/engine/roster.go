package engine

import (
	"cmp"
	"slices"
)

// Roster keeps combatants sorted by initiative, highest first. Equal
// initiatives stay in the order they were added.
type Roster struct {
	combatants []Combatant
	nextSeq    int
	max        int
}

func NewRoster(maxCombatants int) *Roster {
	return &Roster{combatants: []Combatant{}, max: maxCombatants}
}

func (r *Roster) Len() int { return len(r.combatants) }

// Combatants returns a copy in turn order.
func (r *Roster) Combatants() []Combatant {
	out := make([]Combatant, len(r.combatants))
	for i, c := range r.combatants {
		out[i] = c.public()
	}
	return out
}

func (r *Roster) At(i int) (Combatant, bool) {
	if i < 0 || i >= len(r.combatants) {
		return Combatant{}, false
	}
	return r.combatants[i].public(), true
}

func (r *Roster) Find(id string) (Combatant, bool) {
	i := r.index(id)
	if i < 0 {
		return Combatant{}, false
	}
	return r.combatants[i].public(), true
}

func (r *Roster) Add(c Combatant) error {
	if r.max > 0 && len(r.combatants)+1 > r.max {
		return ErrCapacityExceeded
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c = c.clone()
	c.seq = r.nextSeq
	r.nextSeq++
	r.combatants = append(r.combatants, c)
	r.sort()
	return nil
}

// Update merges p into the combatant with the given id. Unknown ids are
// ignored. Only an initiative change reorders the roster.
func (r *Roster) Update(id string, p Patch) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	r.combatants[i].Apply(p)
	if p.Initiative != nil {
		r.sort()
	}
	return true
}

// Mutate runs fn against the combatant in place without resorting.
func (r *Roster) Mutate(id string, fn func(*Combatant) bool) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	return fn(&r.combatants[i])
}

// Remove deletes the combatant. The turn cursor must be reclamped by the caller.
func (r *Roster) Remove(id string) bool {
	i := r.index(id)
	if i < 0 {
		return false
	}
	r.combatants = slices.Delete(r.combatants, i, i+1)
	return true
}

func (r *Roster) Clear() {
	r.combatants = []Combatant{}
}

func (r *Roster) clone() *Roster {
	cp := &Roster{
		combatants: make([]Combatant, len(r.combatants)),
		nextSeq:    r.nextSeq,
		max:        r.max,
	}
	for i, c := range r.combatants {
		cp.combatants[i] = c.clone()
	}
	return cp
}

func (r *Roster) index(id string) int {
	return slices.IndexFunc(r.combatants, func(c Combatant) bool { return c.ID == id })
}

func (r *Roster) sort() {
	slices.SortStableFunc(r.combatants, func(a, b Combatant) int {
		if c := cmp.Compare(b.Initiative, a.Initiative); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

// hydrate replaces the contents with list as stored, deriving the tie-break
// sequence from list position. The caller sorts.
func (r *Roster) hydrate(list []Combatant) {
	r.combatants = make([]Combatant, 0, len(list))
	r.nextSeq = 0
	seen := make(map[string]bool, len(list))
	for _, c := range list {
		c = c.normalize()
		if seen[c.ID] {
			c.ID = NewID()
		}
		seen[c.ID] = true
		c.seq = r.nextSeq
		r.nextSeq++
		r.combatants = append(r.combatants, c)
	}
}
