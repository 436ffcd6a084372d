package patterns

import "testing"

func TestRankBySimilarityIdenticalText(t *testing.T) {
	incoming := Binding{"text": "disk usage above 95 percent on db-01"}
	candidates := []Binding{
		{"text": "disk usage above 95 percent on db-01"},
		{"text": "ssl certificate expires in 3 days"},
	}

	ranked := RankBySimilarity(incoming, candidates, []string{"text"}, SimilarityThreshold)
	if len(ranked) != 1 {
		t.Fatalf("expected one candidate above threshold, got %d", len(ranked))
	}
	if ranked[0].Index != 0 {
		t.Errorf("expected candidate 0, got %d", ranked[0].Index)
	}
	if ranked[0].Score < 0.99 {
		t.Errorf("identical text score = %f, want ~1.0", ranked[0].Score)
	}
}

func TestRankBySimilarityOrdering(t *testing.T) {
	incoming := Binding{"text": "high cpu load on worker node 7"}
	candidates := []Binding{
		{"text": "memory pressure on worker node 7 resolved"},
		{"text": "high cpu load on worker node 9"},
	}

	ranked := RankBySimilarity(incoming, candidates, []string{"text"}, 0.0)
	if len(ranked) != 2 {
		t.Fatalf("expected both candidates with zero threshold, got %d", len(ranked))
	}
	if ranked[0].Index != 1 {
		t.Errorf("most similar candidate should rank first, got index %d", ranked[0].Index)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Errorf("scores not descending: %f then %f", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankBySimilarityMultiFieldProduct(t *testing.T) {
	incoming := Binding{"text": "connection refused to payments api", "event": "PaymentsDown"}
	candidates := []Binding{
		// Same text, unrelated event: the product has to drag the score down.
		{"text": "connection refused to payments api", "event": "DiskFull"},
		{"text": "connection refused to payments api", "event": "PaymentsDown"},
	}

	ranked := RankBySimilarity(incoming, candidates, []string{"text", "event"}, SimilarityThreshold)
	if len(ranked) == 0 {
		t.Fatal("expected the fully matching candidate above threshold")
	}
	if ranked[0].Index != 1 {
		t.Errorf("expected candidate 1 first, got %d", ranked[0].Index)
	}
	for _, r := range ranked {
		if r.Index == 0 && r.Score >= ranked[0].Score {
			t.Error("partially matching candidate must score lower")
		}
	}
}

func TestRankBySimilarityEmptyInputs(t *testing.T) {
	if got := RankBySimilarity(Binding{}, nil, []string{"text"}, 0.5); got != nil {
		t.Errorf("no candidates: got %v", got)
	}
	if got := RankBySimilarity(Binding{}, []Binding{{}}, nil, 0.5); got != nil {
		t.Errorf("no fields: got %v", got)
	}

	// Empty field values score zero and are dropped by the threshold.
	incoming := Binding{"text": "something happened"}
	candidates := []Binding{{"text": ""}}
	if got := RankBySimilarity(incoming, candidates, []string{"text"}, 0.5); len(got) != 0 {
		t.Errorf("empty candidate text: got %v", got)
	}
}
