package conflict

// Chain is one transitively-conflicting group of batch positions, ordered
// by ascending sequence number. Positions index into the analyzed batch.
type Chain []int

// Chains partitions the batch positions [0, len(sets)) into conflict
// chains using union-find over the pairwise conflict relation.
//
// Each chain's transactions must execute strictly in the order given;
// distinct chains touch disjoint accounts and may run concurrently. A
// transaction that conflicts with nothing (including a self-transfer, which
// only conflicts with itself) forms a singleton chain.
//
// Chains are returned ordered by their first position so scheduling output
// is deterministic.
func Chains(sets []RWSet) []Chain {
	parent := make([]int, len(sets))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			// Keep the smaller root so chain ordering follows batch order
			if ra > rb {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	// Union via shared accounts rather than the O(n^2) pairwise scan: two
	// transactions conflict exactly when they share an account that either
	// one writes, and every analyzed transaction writes every account it
	// reads, so sharing any account implies a conflict.
	lastTouched := make(map[string]int)
	for i, set := range sets {
		for _, id := range set.Accounts() {
			if j, ok := lastTouched[string(id)]; ok {
				union(i, j)
			}
			lastTouched[string(id)] = i
		}
	}

	grouped := make(map[int]Chain)
	var roots []int
	for i := range sets {
		r := find(i)
		if _, ok := grouped[r]; !ok {
			roots = append(roots, r)
		}
		grouped[r] = append(grouped[r], i)
	}

	// Roots are the minimum position of each chain and appear in ascending
	// order because positions are visited in batch order.
	chains := make([]Chain, 0, len(roots))
	for _, r := range roots {
		chains = append(chains, grouped[r])
	}
	return chains
}
