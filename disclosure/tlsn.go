package disclosure

import (
	"crypto/rand"
	"fmt"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"

	"webnotary/proof"
	"webnotary/shared"
	"webnotary/transcript"
)

// saltSize is the per-leaf blinding salt length.
const saltSize = 16

// TLSNCommitment is the prover-side result of committing both transcript
// directions: the disclosure section of the artifact plus the two roots the
// notary signs into the session header.
type TLSNCommitment struct {
	Disclosure *proof.TLSNDisclosure
	SentRoot   []byte
	RecvRoot   []byte
}

// BuildTLSNCommitment splits both directions of a sealed transcript into
// leaves at the mask's reveal boundaries, blinds every leaf with a fresh
// salt, and opens exactly the revealed runs. Because leaf edges follow the
// mask, the disclosed bytes equal the declared mask and nothing adjacent to
// a revealed range ever rides along. Revealed runs overlapping a sensitive
// range abort the build instead of leaking the secret.
func BuildTLSNCommitment(snap *transcript.Snapshot, mask *Mask, sensitive []shared.ByteRange) (*TLSNCommitment, error) {
	sentLeaves, sentRoot, err := commitDirection(snap.Contiguous(transcript.Sent), mask.Sent, sensitive)
	if err != nil {
		return nil, fmt.Errorf("sent direction: %w", err)
	}
	recvLeaves, recvRoot, err := commitDirection(snap.Contiguous(transcript.Received), mask.Recv, nil)
	if err != nil {
		return nil, fmt.Errorf("received direction: %w", err)
	}
	return &TLSNCommitment{
		Disclosure: &proof.TLSNDisclosure{
			Sent:    sentLeaves,
			Recv:    recvLeaves,
			Reveals: mask.Reveals,
		},
		SentRoot: sentRoot,
		RecvRoot: recvRoot,
	}, nil
}

// leafRun is one contiguous partition of a direction: either a revealed
// mask range or the redacted gap between two of them.
type leafRun struct {
	r        shared.ByteRange
	revealed bool
}

// partitionRuns tiles [0, n) into alternating redacted and revealed runs.
// reveals are merged first, so runs never overlap and cover the stream
// exactly.
func partitionRuns(n int, reveals []shared.ByteRange) []leafRun {
	var runs []leafRun
	pos := 0
	for _, rv := range shared.MergeRanges(reveals) {
		start, end := rv.Start, rv.End
		if start < 0 {
			start = 0
		}
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		if start > pos {
			runs = append(runs, leafRun{r: shared.ByteRange{Start: pos, End: start}})
		}
		runs = append(runs, leafRun{r: shared.ByteRange{Start: start, End: end}, revealed: true})
		pos = end
	}
	if pos < n {
		runs = append(runs, leafRun{r: shared.ByteRange{Start: pos, End: n}})
	}
	return runs
}

// commitDirection builds the salted leaf list and Merkle root for one
// direction. sensitive ranges, if any, must stay disjoint from every
// revealed run.
func commitDirection(stream []byte, reveals, sensitive []shared.ByteRange) ([]proof.Leaf, []byte, error) {
	h := rfc6962.DefaultHasher
	tree := (&compact.RangeFactory{Hash: h.HashChildren}).NewEmptyRange(0)

	runs := partitionRuns(len(stream), reveals)
	leaves := make([]proof.Leaf, 0, len(runs))

	for i, run := range runs {
		if run.revealed {
			for _, s := range sensitive {
				if run.r.Overlaps(s) {
					return nil, nil, &OverRevealError{
						Name:   fmt.Sprintf("leaf_%d", i),
						Reason: "revealed range covers a substituted variable value",
					}
				}
			}
		}

		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("failed to draw leaf salt: %w", err)
		}

		leafBytes := stream[run.r.Start:run.r.End]
		hash := h.HashLeaf(append(append([]byte{}, salt...), leafBytes...))
		if err := tree.Append(hash, nil); err != nil {
			return nil, nil, fmt.Errorf("failed to append leaf %d: %w", i, err)
		}

		leaf := proof.Leaf{Start: run.r.Start, End: run.r.End, Hash: hash}
		if run.revealed {
			leaf.Salt = salt
			leaf.Bytes = append([]byte{}, leafBytes...)
		}
		leaves = append(leaves, leaf)
	}

	root, err := tree.GetRootHash(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute commitment root: %v", err)
	}
	return leaves, root, nil
}

// RecomputeRoot rebuilds the Merkle root from a disclosure's leaf hashes,
// re-deriving the hash of every revealed leaf from its salt and plaintext.
// Verifiers call this; a tampered revealed byte changes the recomputed root.
func RecomputeRoot(leaves []proof.Leaf) ([]byte, error) {
	h := rfc6962.DefaultHasher
	tree := (&compact.RangeFactory{Hash: h.HashChildren}).NewEmptyRange(0)

	for i, leaf := range leaves {
		hash := leaf.Hash
		if leaf.Revealed() {
			if len(leaf.Salt) == 0 {
				return nil, fmt.Errorf("revealed leaf %d carries no salt", i)
			}
			if len(leaf.Bytes) != leaf.End-leaf.Start {
				return nil, fmt.Errorf("revealed leaf %d carries %d bytes for range [%d,%d)",
					i, len(leaf.Bytes), leaf.Start, leaf.End)
			}
			hash = h.HashLeaf(append(append([]byte{}, leaf.Salt...), leaf.Bytes...))
		}
		if err := tree.Append(hash, nil); err != nil {
			return nil, fmt.Errorf("failed to append leaf %d: %w", i, err)
		}
	}
	root, err := tree.GetRootHash(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compute commitment root: %v", err)
	}
	return root, nil
}

// RevealedBytes reconstructs the byte content of one absolute range from the
// revealed leaves. It fails if any byte of the range falls in a redacted
// leaf.
func RevealedBytes(leaves []proof.Leaf, r shared.ByteRange) ([]byte, error) {
	out := make([]byte, 0, r.Length())
	pos := r.Start
	for _, leaf := range leaves {
		if pos >= r.End {
			break
		}
		if leaf.End <= pos {
			continue
		}
		if leaf.Start > pos {
			return nil, fmt.Errorf("range [%d,%d) falls in a gap between committed leaves", r.Start, r.End)
		}
		if !leaf.Revealed() {
			return nil, fmt.Errorf("range [%d,%d) touches redacted bytes", r.Start, r.End)
		}
		end := leaf.End
		if end > r.End {
			end = r.End
		}
		out = append(out, leaf.Bytes[pos-leaf.Start:end-leaf.Start]...)
		pos = end
	}
	if pos < r.End {
		return nil, fmt.Errorf("range [%d,%d) runs past the committed transcript", r.Start, r.End)
	}
	return out, nil
}
