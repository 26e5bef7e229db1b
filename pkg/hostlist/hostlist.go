// Package hostlist resolves symbolic host references and aliases against
// the fleet, selects canaries, and orders the list to minimize correlated
// blast radius, per spec §4.5.
package hostlist

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/fleetroll/fleetroll/pkg/hostsource"
)

// Aliases maps an alias key to the fnmatch-style globs it expands to,
// matched against host Name — the Go analogue of rollingpin's
// ALIAS_SECTION ini block.
type Aliases map[string][]string

// Resolve implements pipeline steps 1–2: alias expansion then reference
// resolution. refs may mix alias keys and literal host names.
func Resolve(refs []string, aliases Aliases, fleet []hostsource.Host) ([]hostsource.Host, error) {
	byName := make(map[string]hostsource.Host, len(fleet))
	for _, h := range fleet {
		byName[h.Name] = h
	}

	var out []hostsource.Host
	seen := make(map[string]bool)

	addHost := func(h hostsource.Host) {
		if !seen[h.ID] {
			seen[h.ID] = true
			out = append(out, h)
		}
	}

	for _, ref := range refs {
		if globs, ok := aliases[ref]; ok {
			matched := false
			for _, glob := range globs {
				for _, h := range fleet {
					ok, err := filepath.Match(glob, h.Name)
					if err == nil && ok {
						addHost(h)
						matched = true
					}
				}
			}
			if !matched {
				return nil, &UnresolvableAliasError{Alias: ref}
			}
			continue
		}
		if h, ok := byName[ref]; ok {
			addHost(h)
			continue
		}
		return nil, &UnresolvableHostRefError{Ref: ref}
	}
	return out, nil
}

// Restrict implements pipeline step 3: stop-before is applied first
// (take-while name != stopBefore), then start-at (drop-while name !=
// startAt). Empty strings mean "no restriction" for that bound.
func Restrict(hosts []hostsource.Host, startAt, stopBefore string) ([]hostsource.Host, error) {
	result := hosts

	if stopBefore != "" {
		if !containsName(result, stopBefore) {
			return nil, &HostSelectionError{Kind: "stop-before", Name: stopBefore}
		}
		var taken []hostsource.Host
		for _, h := range result {
			if h.Name == stopBefore {
				break
			}
			taken = append(taken, h)
		}
		result = taken
	}

	if startAt != "" {
		if !containsName(result, startAt) {
			return nil, &HostSelectionError{Kind: "start-at", Name: startAt}
		}
		idx := 0
		for i, h := range result {
			if h.Name == startAt {
				idx = i
				break
			}
		}
		result = result[idx:]
	}

	return result, nil
}

func containsName(hosts []hostsource.Host, name string) bool {
	for _, h := range hosts {
		if h.Name == name {
			return true
		}
	}
	return false
}

// SelectCanaries implements pipeline step 4: one host per distinct pool,
// the lexicographically-smallest ID within the pool, pools ordered by
// descending size (largest pool's canary first). Ties in pool size break
// on the pool name via sortedNicely for determinism. Returns the canaries
// in final order and the remainder (canaries removed) in input order.
func SelectCanaries(hosts []hostsource.Host) (canaries []hostsource.Host, remainder []hostsource.Host) {
	byPool := make(map[string][]hostsource.Host)
	var poolOrder []string
	for _, h := range hosts {
		if _, ok := byPool[h.Pool]; !ok {
			poolOrder = append(poolOrder, h.Pool)
		}
		byPool[h.Pool] = append(byPool[h.Pool], h)
	}

	sortedNicely(poolOrder, func(i, j int) bool {
		si, sj := len(byPool[poolOrder[i]]), len(byPool[poolOrder[j]])
		if si != sj {
			return si > sj
		}
		return compareNicely(poolOrder[i], poolOrder[j]) < 0
	})

	canaryID := make(map[string]bool)
	for _, pool := range poolOrder {
		members := byPool[pool]
		best := members[0]
		for _, h := range members[1:] {
			if h.ID < best.ID {
				best = h
			}
		}
		canaries = append(canaries, best)
		canaryID[best.ID] = true
	}

	for _, h := range hosts {
		if !canaryID[h.ID] {
			remainder = append(remainder, h)
		}
	}
	return canaries, remainder
}

// Interleave implements pipeline step 5: group remainder by pool, start
// with the largest group as the working list, and splice each subsequent
// group's items into it at evenly spaced indices so same-pool hosts are
// maximally separated.
func Interleave(remainder []hostsource.Host) []hostsource.Host {
	byPool := make(map[string][]hostsource.Host)
	var poolOrder []string
	for _, h := range remainder {
		if _, ok := byPool[h.Pool]; !ok {
			poolOrder = append(poolOrder, h.Pool)
		}
		byPool[h.Pool] = append(byPool[h.Pool], h)
	}

	sortedNicely(poolOrder, func(i, j int) bool {
		si, sj := len(byPool[poolOrder[i]]), len(byPool[poolOrder[j]])
		if si != sj {
			return si > sj
		}
		return compareNicely(poolOrder[i], poolOrder[j]) < 0
	})

	if len(poolOrder) == 0 {
		return nil
	}

	working := append([]hostsource.Host{}, byPool[poolOrder[0]]...)
	for _, pool := range poolOrder[1:] {
		group := byPool[pool]
		if len(working) == 0 {
			working = append(working, group...)
			continue
		}
		spacing := ceilDiv(len(working), len(group))
		next := make([]hostsource.Host, 0, len(working)+len(group))
		gi := 0
		for i, h := range working {
			next = append(next, h)
			if gi < len(group) && (i+1)%spacing == 0 {
				next = append(next, group[gi])
				gi++
			}
		}
		for ; gi < len(group); gi++ {
			next = append(next, group[gi])
		}
		working = next
	}
	return working
}

// Order runs the full pipeline (steps 4–6): canary selection, interleave,
// then canaries ++ reverse(interleaved remainder).
func Order(hosts []hostsource.Host) []hostsource.Host {
	canaries, remainder := SelectCanaries(hosts)
	interleaved := Interleave(remainder)
	reverse(interleaved)
	return append(append([]hostsource.Host{}, canaries...), interleaved...)
}

func reverse(hosts []hostsource.Host) {
	for i, j := 0, len(hosts)-1; i < j; i, j = i+1, j-1 {
		hosts[i], hosts[j] = hosts[j], hosts[i]
	}
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// sortedNicely sorts in place using less, a stable sort (insertion-sort
// style for the small pool-count case the deploy engine actually sees).
func sortedNicely(items []string, less func(i, j int) bool) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

var numberRun = regexp.MustCompile(`\d+`)

// compareNicely implements the human-numeric "sorted_nicely" comparison:
// split on integer runs, compare numerically where both sides are numeric,
// lexicographically otherwise.
func compareNicely(a, b string) int {
	as := splitNumeric(a)
	bs := splitNumeric(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		return strings.Compare(as[i], bs[i])
	}
	return len(as) - len(bs)
}

func splitNumeric(s string) []string {
	var out []string
	last := 0
	for _, loc := range numberRun.FindAllStringIndex(s, -1) {
		if loc[0] > last {
			out = append(out, s[last:loc[0]])
		}
		out = append(out, s[loc[0]:loc[1]])
		last = loc[1]
	}
	if last < len(s) {
		out = append(out, s[last:])
	}
	return out
}
