// README: Common value objects shared across modules.
package types

// ID is an opaque document identifier (Firebase uid, Firestore doc id).
type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" firestore:"lat"`
	Lng float64 `json:"lng" firestore:"lng"`
}

// IDSet is an order-preserving membership helper for small id lists such as
// declinedDrivers.
type IDSet []ID

func (s IDSet) Contains(id ID) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// With returns s plus id, unchanged when id is already present.
func (s IDSet) With(id ID) IDSet {
	if s.Contains(id) {
		return s
	}
	out := make(IDSet, len(s), len(s)+1)
	copy(out, s)
	return append(out, id)
}
