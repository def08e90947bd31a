// Package geo groups opt-out coordinates into approximate clusters for map display,
// so a single household is never pinpointed by the public route-stats view.
package geo

import (
	"math"
)

// DefaultRadius is roughly 200m expressed in degrees.
const DefaultRadius = 0.002

// gridCutover is the input size above which the grid strategy replaces the pairwise scan.
const gridCutover = 2000

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type ClusteredLocation struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Count int     `json:"count"`
}

// Clusterer holds the clustering policy.
type Clusterer struct {
	Radius float64
}

func NewClusterer(radius float64) Clusterer {
	if radius <= 0 || math.IsNaN(radius) {
		radius = DefaultRadius
	}
	return Clusterer{Radius: radius}
}

// Cluster picks the pairwise scan for small inputs and the grid for large ones.
// Both strategies return the same {lat, lng, count} contract.
func (c Clusterer) Cluster(locations []Location) []ClusteredLocation {
	if len(locations) > gridCutover {
		return GridCluster(locations, c.Radius)
	}
	return Cluster(locations, c.Radius)
}

// Cluster is the greedy single-pass strategy. Each unused location seeds a cluster and
// absorbs later unused locations lying within radius of every member already absorbed,
// so two points radius or more apart never share a cluster.
func Cluster(locations []Location, radius float64) []ClusteredLocation {
	return centroids(locations, pairwiseGroups(locations, radius))
}

// GridCluster buckets locations into square cells whose diagonal equals radius, so every
// pair inside one cell is closer than radius. Runs in O(n).
func GridCluster(locations []Location, radius float64) []ClusteredLocation {
	return centroids(locations, gridGroups(locations, radius))
}

func pairwiseGroups(locations []Location, radius float64) [][]int {
	used := make([]bool, len(locations))
	var groups [][]int

	for i := range locations {
		if used[i] {
			continue
		}
		used[i] = true
		members := []int{i}

		for j := i + 1; j < len(locations); j++ {
			if used[j] || !withinAll(locations, members, j, radius) {
				continue
			}
			used[j] = true
			members = append(members, j)
		}
		groups = append(groups, members)
	}
	return groups
}

func withinAll(locations []Location, members []int, candidate int, radius float64) bool {
	for _, m := range members {
		if Distance(locations[m], locations[candidate]) >= radius {
			return false
		}
	}
	return true
}

func gridGroups(locations []Location, radius float64) [][]int {
	type cellKey struct{ x, y int64 }

	side := radius / math.Sqrt2
	index := make(map[cellKey]int)
	var groups [][]int

	for i, loc := range locations {
		k := cellKey{
			x: int64(math.Floor(loc.Lat / side)),
			y: int64(math.Floor(loc.Lng / side)),
		}
		g, ok := index[k]
		if !ok {
			g = len(groups)
			index[k] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// Distance is the planar Euclidean distance in degrees.
func Distance(a, b Location) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

func centroids(locations []Location, groups [][]int) []ClusteredLocation {
	out := make([]ClusteredLocation, 0, len(groups))
	for _, members := range groups {
		out = append(out, centroid(locations, members))
	}
	return out
}

func centroid(locations []Location, members []int) ClusteredLocation {
	var sumLat, sumLng float64
	for _, m := range members {
		sumLat += locations[m].Lat
		sumLng += locations[m].Lng
	}
	n := float64(len(members))
	return ClusteredLocation{
		Lat:   sumLat / n,
		Lng:   sumLng / n,
		Count: len(members),
	}
}

// FilterMinCount drops clusters below the display threshold.
func FilterMinCount(clusters []ClusteredLocation, min int) []ClusteredLocation {
	if min <= 1 {
		return clusters
	}
	out := make([]ClusteredLocation, 0, len(clusters))
	for _, c := range clusters {
		if c.Count >= min {
			out = append(out, c)
		}
	}
	return out
}
