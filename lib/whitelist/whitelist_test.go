// Copyright 2026 The Osaurus Authors
// SPDX-License-Identifier: Apache-2.0

package whitelist

import (
	"testing"

	"github.com/osaurus-run/core/lib/secretstore"
)

func TestAddMasterPersistsAndReloads(t *testing.T) {
	backing := secretstore.NewMemoryStore()

	store, err := Open(backing, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AddMaster("0xAAAA000000000000000000000000000000000a"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(backing, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := reloaded.MasterWhitelist()
	if len(got) != 1 || got[0] != "0xaaaa000000000000000000000000000000000a" {
		t.Errorf("MasterWhitelist after reload = %v", got)
	}
}

func TestAgentWhitelistPruneOnEmpty(t *testing.T) {
	backing := secretstore.NewMemoryStore()
	store, err := Open(backing, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AddAgent("agent1", "0xBBBB000000000000000000000000000000000b"); err != nil {
		t.Fatal(err)
	}
	if got := store.AgentWhitelist("agent1"); len(got) != 1 {
		t.Fatalf("AgentWhitelist = %v, want 1 entry", got)
	}

	if err := store.RemoveAgent("agent1", "0xBBBB000000000000000000000000000000000b"); err != nil {
		t.Fatal(err)
	}
	if got := store.AgentWhitelist("agent1"); got != nil {
		t.Errorf("AgentWhitelist after removing last entry = %v, want nil (pruned)", got)
	}
}

func TestEffectiveWhitelistAlwaysContainsAgentAndMaster(t *testing.T) {
	backing := secretstore.NewMemoryStore()
	store, err := Open(backing, nil)
	if err != nil {
		t.Fatal(err)
	}

	effective := store.EffectiveWhitelist("0xAgentAddress", "0xMasterAddress")
	if _, ok := effective["0xagentaddress"]; !ok {
		t.Error("effective whitelist must contain the agent address")
	}
	if _, ok := effective["0xmasteraddress"]; !ok {
		t.Error("effective whitelist must contain the master address")
	}
}

func TestEffectiveWhitelistUnionsAllSources(t *testing.T) {
	backing := secretstore.NewMemoryStore()
	store, err := Open(backing, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AddMaster("0xMasterWhitelisted"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddAgent("agent1", "0xAgentWhitelisted"); err != nil {
		t.Fatal(err)
	}

	effective := store.EffectiveWhitelist("agent1", "0xMasterAddress")
	for _, want := range []string{"0xmasterwhitelisted", "0xagentwhitelisted", "agent1", "0xmasteraddress"} {
		if _, ok := effective[want]; !ok {
			t.Errorf("effective whitelist missing %q: %v", want, effective)
		}
	}
}
