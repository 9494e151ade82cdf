package entityp

// Ent pairs a record with its id.
type Ent[E any, ID comparable] struct {
	ID     ID
	Record E
}
