package fatfs

import (
	"errors"
	"fmt"

	"github.com/aligator/fatfs/checkpoint"
)

// These errors may occur while working with cluster chains.
var (
	ErrAllocate  = errors.New("could not allocate a cluster")
	ErrWalkChain = errors.New("could not follow the cluster chain")
	ErrFreeChain = errors.New("could not free the cluster chain")
	ErrZeroFill  = errors.New("could not zero the cluster")
)

// nextCluster returns the successor of cluster in its chain.
// end is true if cluster is the last one.
func (fs *Fs) nextCluster(cluster uint32) (next uint32, end bool, err error) {
	if !fs.geo.validCluster(cluster) {
		return 0, false, checkpoint.Wrap(fmt.Errorf("cluster %d out of range", cluster), ErrCorrupt)
	}

	value, err := fs.table.entry(cluster)
	if err != nil {
		return 0, false, err
	}

	if fs.table.isEOC(value) {
		return 0, true, nil
	}
	if !fs.geo.validCluster(value) {
		return 0, false, checkpoint.Wrap(fmt.Errorf("cluster %d points to %#x", cluster, value), ErrCorrupt)
	}
	return value, false, nil
}

// walkChain calls fn for every cluster of the chain starting at start.
// Returning false from fn stops the walk.
func (fs *Fs) walkChain(start uint32, fn func(cluster uint32) bool) error {
	cluster := start
	for steps := uint32(0); ; steps++ {
		if steps > fs.geo.totalClusters {
			return checkpoint.Wrap(fmt.Errorf("chain at %d contains a loop", start), ErrCorrupt)
		}
		if !fn(cluster) {
			return nil
		}

		next, end, err := fs.nextCluster(cluster)
		if err != nil {
			return checkpoint.Wrap(err, ErrWalkChain)
		}
		if end {
			return nil
		}
		cluster = next
	}
}

// chainEnd returns the last cluster of a chain.
func (fs *Fs) chainEnd(start uint32) (uint32, error) {
	last := start
	err := fs.walkChain(start, func(cluster uint32) bool {
		last = cluster
		return true
	})
	return last, err
}

// chainLength counts the clusters of a chain.
func (fs *Fs) chainLength(start uint32) (uint32, error) {
	var n uint32
	err := fs.walkChain(start, func(uint32) bool {
		n++
		return true
	})
	return n, err
}

// clusterAt returns the cluster with the zero based index n in a chain.
func (fs *Fs) clusterAt(start, n uint32) (uint32, error) {
	var (
		found uint32
		i     uint32
	)
	err := fs.walkChain(start, func(cluster uint32) bool {
		if i == n {
			found = cluster
			return false
		}
		i++
		return true
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, checkpoint.Wrap(fmt.Errorf("chain at %d has only %d clusters, wanted index %d", start, i, n), ErrCorrupt)
	}
	return found, nil
}

// findFree scans for a free cluster from the hint to the end and then wraps around to 2.
// It returns 0 if the volume is full.
func (fs *Fs) findFree() (uint32, error) {
	hint := fs.nextFree
	if !fs.geo.validCluster(hint) {
		hint = 2
	}

	scan := func(from, to uint32) (uint32, error) {
		for cluster := from; cluster < to; cluster++ {
			value, err := fs.table.entry(cluster)
			if err != nil {
				return 0, err
			}
			if value == 0 {
				return cluster, nil
			}
		}
		return 0, nil
	}

	cluster, err := scan(hint, fs.geo.maxCluster()+1)
	if err != nil || cluster != 0 {
		return cluster, err
	}
	return scan(2, hint)
}

// allocate takes a free cluster, marks it as end of chain and appends it to prev
// if prev is not 0. Nothing is changed if no free cluster exists.
func (fs *Fs) allocate(prev uint32) (uint32, error) {
	cluster, err := fs.findFree()
	if err != nil {
		return 0, checkpoint.Wrap(err, ErrAllocate)
	}
	if cluster == 0 {
		return 0, checkpoint.Wrap(ErrNoSpace, ErrAllocate)
	}

	if err := fs.table.setEntry(cluster, fs.table.eocMarker()); err != nil {
		return 0, checkpoint.Wrap(err, ErrAllocate)
	}
	if prev != 0 {
		if err := fs.table.setEntry(prev, cluster); err != nil {
			return 0, checkpoint.Wrap(err, ErrAllocate)
		}
	}

	fs.nextFree = cluster
	fs.log.WithField("cluster", cluster).WithField("prev", prev).Debug("allocated cluster")
	return cluster, nil
}

// allocateZeroed is allocate followed by clearing the content of the new cluster.
// Directory clusters need that, because an unused slot has to start with 0x00.
func (fs *Fs) allocateZeroed(prev uint32) (uint32, error) {
	cluster, err := fs.allocate(prev)
	if err != nil {
		return 0, err
	}

	zero := make([]byte, fs.geo.bytesPerCluster)
	if err := fs.dev.WriteSectors(fs.geo.clusterSector(cluster), zero); err != nil {
		return 0, checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrZeroFill)
	}
	return cluster, nil
}

// freeChain marks every cluster of a chain as free. The data is left untouched.
func (fs *Fs) freeChain(start uint32) error {
	cluster := start
	for steps := uint32(0); ; steps++ {
		if steps > fs.geo.totalClusters {
			return checkpoint.Wrap(fmt.Errorf("chain at %d contains a loop", start), ErrFreeChain)
		}

		next, end, err := fs.nextCluster(cluster)
		if err != nil {
			return checkpoint.Wrap(err, ErrFreeChain)
		}
		if err := fs.table.setEntry(cluster, 0); err != nil {
			return checkpoint.Wrap(err, ErrFreeChain)
		}
		if end {
			break
		}
		cluster = next
	}

	if start < fs.nextFree {
		fs.nextFree = start
	}
	fs.log.WithField("cluster", start).Debug("freed chain")
	return nil
}

// truncateChain keeps the first keep clusters of a chain and frees the rest.
// keep must be at least 1.
func (fs *Fs) truncateChain(start, keep uint32) error {
	last, err := fs.clusterAt(start, keep-1)
	if err != nil {
		return err
	}

	next, end, err := fs.nextCluster(last)
	if err != nil || end {
		return err
	}

	if err := fs.table.setEntry(last, fs.table.eocMarker()); err != nil {
		return err
	}
	return fs.freeChain(next)
}
