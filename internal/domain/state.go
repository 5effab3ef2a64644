package domain

import (
	"errors"
	"fmt"
)

// Actor distinguishes automated processing from an operator acting through
// the admin API.
type Actor string

const (
	ActorSystem   Actor = "system"
	ActorOperator Actor = "operator"
)

var ErrIllegalTransition = errors.New("illegal status transition")

type edge struct {
	from, to TxStatus
}

// transitions maps every permitted edge to the least privileged actor allowed
// to take it. Edges missing from the table are illegal.
var transitions = map[edge]Actor{
	{StatusPending, StatusVerifying}:            ActorSystem,
	{StatusVerifying, StatusVerified}:           ActorSystem,
	{StatusVerifying, StatusFailed}:             ActorSystem,
	{StatusVerifying, StatusManualReview}:       ActorSystem,
	{StatusVerified, StatusTransferPending}:     ActorSystem,
	{StatusTransferPending, StatusCompleted}:    ActorSystem,
	{StatusTransferPending, StatusManualReview}: ActorSystem,
	{StatusManualReview, StatusCompleted}:       ActorOperator,
	{StatusManualReview, StatusTransferPending}: ActorOperator,
	{StatusManualReview, StatusCancelled}:       ActorOperator,
	{StatusPending, StatusCancelled}:            ActorOperator,
	{StatusVerifying, StatusCancelled}:          ActorOperator,
	{StatusVerified, StatusCancelled}:           ActorOperator,
}

// CheckTransition returns nil when actor may move a transaction from one
// status to the other. Operators may take system edges; the system may not
// take operator edges.
func CheckTransition(from, to TxStatus, actor Actor) error {
	required, ok := transitions[edge{from, to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if required == ActorOperator && actor != ActorOperator {
		return fmt.Errorf("%w: %s -> %s requires an operator", ErrIllegalTransition, from, to)
	}
	return nil
}
