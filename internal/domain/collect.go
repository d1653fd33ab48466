package domain

import "sort"

// GenreSet accumulates unique genres across movies.
type GenreSet struct {
	byID    map[string]Genre
	Invalid int // entries missing an id or a name
}

// NewGenreSet creates an empty set.
func NewGenreSet() *GenreSet {
	return &GenreSet{byID: make(map[string]Genre)}
}

// Add records the genres of m.
func (s *GenreSet) Add(m Movie) {
	for _, g := range m.Genres {
		if g.ID == "" || g.Name == "" {
			s.Invalid++
			continue
		}
		s.byID[g.ID] = g
	}
}

// Len returns the number of unique genres.
func (s *GenreSet) Len() int { return len(s.byID) }

// List returns the genres sorted by id.
func (s *GenreSet) List() []Genre {
	out := make([]Genre, 0, len(s.byID))
	for _, g := range s.byID {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PersonSet accumulates unique (id, role) persons across movies.
type PersonSet struct {
	byKey   map[string]Person
	Invalid int
}

// NewPersonSet creates an empty set.
func NewPersonSet() *PersonSet {
	return &PersonSet{byKey: make(map[string]Person)}
}

// Add records every credit of m.
func (s *PersonSet) Add(m Movie) {
	s.add(m.Actors, RoleActor)
	s.add(m.Writers, RoleWriter)
	s.add(m.Directors, RoleDirector)
}

func (s *PersonSet) add(credits []Credit, role Role) {
	for _, c := range credits {
		if c.UUID == "" || c.FullName == "" {
			s.Invalid++
			continue
		}
		p := Person{ID: c.UUID, FullName: c.FullName, Role: role}
		s.byKey[p.DocID()] = p
	}
}

// Len returns the number of unique persons.
func (s *PersonSet) Len() int { return len(s.byKey) }

// List returns the persons sorted by document id.
func (s *PersonSet) List() []Person {
	out := make([]Person, 0, len(s.byKey))
	for _, p := range s.byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID() < out[j].DocID() })
	return out
}
