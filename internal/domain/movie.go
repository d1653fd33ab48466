package domain

// Movie is the document loaded from the primary store into the movies index.
//
// The JSON shape is the one the search API reads: genres live under "genre"
// and credits carry "uuid" / "full_name".
type Movie struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// ID is the movie UUID. It is also the document _id in the index, so
	// reloading the same row overwrites instead of duplicating.
	ID string `json:"id"`

	// ─────────────────────────────
	// Description
	// ─────────────────────────────

	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	IMDbRating  float64 `json:"imdb_rating"`

	// ─────────────────────────────
	// Relations
	// ─────────────────────────────

	Genres    []Genre  `json:"genre"`
	Actors    []Credit `json:"actors"`
	Writers   []Credit `json:"writers"`
	Directors []Credit `json:"directors"`
}

// Genre is both an embedded movie attribute and a genres index document.
type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Credit links a person to a movie.
type Credit struct {
	UUID     string `json:"uuid"`
	FullName string `json:"full_name"`
}

// Role is the part a person played in a movie.
type Role string

const (
	RoleActor    Role = "actor"
	RoleWriter   Role = "writer"
	RoleDirector Role = "director"
)

// Person is a persons index document. A person credited under several roles
// yields one document per role.
type Person struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// DocID is the index _id of a person document.
func (p Person) DocID() string {
	if p.Role == RoleActor {
		return p.ID
	}
	return p.ID + ":" + string(p.Role)
}
