// Package oracle posts market questions to a Realitio-style oracle and
// reads back the final answer.
package oracle

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Separator delimits the fields of a Realitio question string.
const Separator = "␟"

// SingleSelectTemplate is Realitio's built-in template id for questions
// with one answer out of a list.
const SingleSelectTemplate = 2

// Question is a parsed single-select Realitio question.
type Question struct {
	Title    string
	Outcomes []string
	Category string
	Lang     string
}

// ParseQuestion splits title␟"A","B"␟category␟lang. A question without
// separators is treated as a bare title.
func ParseQuestion(s string) (Question, error) {
	parts := strings.Split(s, Separator)
	q := Question{Title: strings.TrimSpace(parts[0])}
	if q.Title == "" {
		return Question{}, errors.New("oracle: empty question title")
	}
	if len(parts) > 1 {
		var outcomes []string
		if err := json.Unmarshal([]byte("["+parts[1]+"]"), &outcomes); err != nil {
			return Question{}, fmt.Errorf("oracle: parse outcomes %q: %w", parts[1], err)
		}
		q.Outcomes = outcomes
	}
	if len(parts) > 2 {
		q.Category = parts[2]
	}
	if len(parts) > 3 {
		q.Lang = parts[3]
	}
	return q, nil
}

// String formats q back into Realitio's wire form.
func (q Question) String() string {
	if len(q.Outcomes) == 0 && q.Category == "" && q.Lang == "" {
		return q.Title
	}
	quoted := make([]string, len(q.Outcomes))
	for i, o := range q.Outcomes {
		b, _ := json.Marshal(o)
		quoted[i] = string(b)
	}
	return strings.Join([]string{q.Title, strings.Join(quoted, ","), q.Category, q.Lang}, Separator)
}

// QuestionID derives the id Realitio assigns to a question:
//
//	content_hash = keccak256(template_id, opening_ts, question)
//	question_id  = keccak256(content_hash, arbitrator, timeout, sender, nonce)
//
// with every field packed at its natural width.
func QuestionID(templateID uint64, openingTS uint32, question string, arbitrator common.Address, timeout uint32, sender common.Address, nonce *uint256.Int) common.Hash {
	tmpl := uint256.NewInt(templateID).Bytes32()
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], openingTS)
	content := crypto.Keccak256(tmpl[:], ts[:], []byte(question))

	var to [4]byte
	binary.BigEndian.PutUint32(to[:], timeout)
	n := nonce.Bytes32()
	return crypto.Keccak256Hash(content, arbitrator[:], to[:], sender[:], n[:])
}
