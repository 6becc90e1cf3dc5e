package cluster

import "testing"

func TestLookupIdentityKnownIndices(t *testing.T) {
	for idx := 0; idx < NumClusters; idx++ {
		id, err := lookupIdentity(idx)
		if err != nil {
			t.Fatalf("lookupIdentity(%d): %v", idx, err)
		}
		if id.memSize == 0 {
			t.Fatalf("cluster %d has zero memory size", idx)
		}
	}
}

func TestLookupIdentityUnknownIndex(t *testing.T) {
	if _, err := lookupIdentity(NumClusters); err == nil {
		t.Fatal("expected error for out-of-range cluster index")
	}
}

func TestCluster3HasDistinctTopology(t *testing.T) {
	id0, _ := lookupIdentity(0)
	id3, _ := lookupIdentity(3)
	if id0.startAddr == id3.startAddr {
		t.Fatal("cluster 3 should have a distinct DRAM base address")
	}
	if id3.memSize <= id0.memSize {
		t.Fatal("cluster 3 is expected to have a larger DRAM window")
	}
}

func TestStartAddressMatchesIdentity(t *testing.T) {
	c := &Cluster{idx: 1}
	var err error
	c.id, err = lookupIdentity(1)
	if err != nil {
		t.Fatalf("lookupIdentity: %v", err)
	}
	if got, want := c.StartAddress(), c.id.startAddr; got != want {
		t.Fatalf("StartAddress() = %#x, want %#x", got, want)
	}
}
