package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"welcome/internal/action"
	"welcome/internal/blockchain"
	apperrors "welcome/internal/errors"
	"welcome/internal/logger"
	"welcome/internal/stream"
	"welcome/internal/welcome"
)

const deployOrJoinQuestion = `
Choose one of the following:
  1. Deploy a new welcome contract
  2. Join an existing welcome contract as an organizer
  3. Join an existing welcome contract as a participant
`

const organizerLoopQuestion = `
Choose one of the following:
  1. Add a participant
  2. Add an organizer
  3. Display local state
  4. Display ledger state
  5. Exit
`

const participantLoopQuestion = `
Choose one of the following:
  1. Check in
  2. Display local state
  3. Display ledger state
  4. Exit
`

type Options struct {
	InitialParticipants []string
	ActionTimeout       time.Duration
}

// Session drives one interactive user through a welcome contract.
type Session struct {
	ctx       context.Context
	in        *bufio.Reader
	out       io.Writer
	logger    *zap.Logger
	providers welcome.Providers
	app       *welcome.AppProviders
	options   Options
}

func NewSession(ctx context.Context, in io.Reader, out io.Writer, providers welcome.Providers, app *welcome.AppProviders, options Options) *Session {
	if options.ActionTimeout <= 0 {
		options.ActionTimeout = 2 * time.Minute
	}
	return &Session{
		ctx:       ctx,
		in:        bufio.NewReader(in),
		out:       out,
		logger:    logger.OrNop(app.Logger),
		providers: providers,
		app:       app,
		options:   options,
	}
}

// Run returns nil when the user exits or the input ends.
func (s *Session) Run() error {
	err := s.run()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Session) run() error {
	for {
		choice, err := s.question(deployOrJoinQuestion)
		if err != nil {
			return err
		}
		switch choice {
		case "1":
			s.printf("Deploying welcome contract...\n")
			api, err := welcome.DeployOrganizer(s.ctx, s.providers, s.app, s.options.InitialParticipants)
			if err != nil {
				return err
			}
			s.printf("Deployed contract at address: %s\n", api.ContractAddress)
			return s.organizerLoop(api)
		case "2":
			api, err := s.joinOrganizer()
			if err != nil {
				return err
			}
			return s.organizerLoop(api)
		case "3":
			api, err := s.joinParticipant()
			if err != nil {
				return err
			}
			return s.participantLoop(api)
		default:
			s.printf("Invalid choice: %s\n", choice)
		}
	}
}

func (s *Session) joinOrganizer() (*welcome.OrganizerAPI, error) {
	for {
		address, err := s.question("What is the contract address (in hex)? ")
		if err != nil {
			return nil, err
		}
		api, err := welcome.JoinOrganizer(s.ctx, s.providers, s.app, blockchain.ContractAddress(address))
		if err == nil {
			s.printf("Joined contract at address: %s\n", api.ContractAddress)
			return api, nil
		}
		if s.ctx.Err() != nil {
			return nil, err
		}
		s.printf("Failed to join the contract (%s: %v), please try again.\n", apperrors.CodeOf(err), err)
	}
}

func (s *Session) joinParticipant() (*welcome.ParticipantAPI, error) {
	for {
		address, err := s.question("What is the contract address (in hex)? ")
		if err != nil {
			return nil, err
		}
		api, err := welcome.JoinParticipant(s.ctx, s.providers, s.app, blockchain.ContractAddress(address))
		if err == nil {
			s.printf("Joined contract at address: %s\n", api.ContractAddress)
			return api, nil
		}
		if s.ctx.Err() != nil {
			return nil, err
		}
		s.printf("Failed to join the contract (%s: %v), please try again.\n", apperrors.CodeOf(err), err)
	}
}

func (s *Session) organizerLoop(api *welcome.OrganizerAPI) error {
	for {
		choice, err := s.question(organizerLoopQuestion)
		if err != nil {
			return err
		}
		switch choice {
		case "1":
			participantID, err := s.question("Enter the new participant's GitHub username: ")
			if err != nil {
				return err
			}
			id, err := api.AddParticipant(s.ctx, participantID)
			if err != nil {
				return err
			}
			report(s, api.State(), id, fmt.Sprintf("Participant '%s' added", participantID))
		case "2":
			pk, err := s.question("Enter the new organizer's public key (in hex): ")
			if err != nil {
				return err
			}
			organizerPk, err := hex.DecodeString(pk)
			if err != nil {
				s.printf("Invalid public key: %v\n", err)
				continue
			}
			id, err := api.AddOrganizer(s.ctx, organizerPk)
			if err != nil {
				return err
			}
			report(s, api.State(), id, fmt.Sprintf("Organizer '%s' added", pk))
		case "3":
			state, err := stream.First(s.ctx, api.State())
			if err != nil {
				return err
			}
			s.printf("role: %s\n", state.Role)
			s.printf("secretKey: %s\n", orUndefined(state.SecretKey))
			s.printf("publicKey: %s\n", orUndefined(state.PublicKey))
			s.printActions(state.Actions)
		case "4":
			if err := s.displayLedgerState(api.ContractAddress); err != nil {
				return err
			}
		case "5":
			s.printf("Goodbye\n")
			return nil
		default:
			s.printf("Invalid choice: %s\n", choice)
		}
	}
}

func (s *Session) participantLoop(api *welcome.ParticipantAPI) error {
	for {
		choice, err := s.question(participantLoopQuestion)
		if err != nil {
			return err
		}
		switch choice {
		case "1":
			participantID, err := s.question("Enter your GitHub username: ")
			if err != nil {
				return err
			}
			id, err := api.CheckIn(s.ctx, participantID)
			if err != nil {
				return err
			}
			report(s, api.State(), id, fmt.Sprintf("Participant '%s' checked in", participantID))
		case "2":
			state, err := stream.First(s.ctx, api.State())
			if err != nil {
				return err
			}
			participantID := ""
			if state.ParticipantID != nil {
				participantID = *state.ParticipantID
			}
			s.printf("participantId: %s\n", orUndefined(participantID))
			s.printf("checkedIn: %t\n", state.IsCheckedIn)
			s.printActions(state.Actions)
		case "3":
			if err := s.displayLedgerState(api.ContractAddress); err != nil {
				return err
			}
		case "4":
			s.printf("Goodbye\n")
			return nil
		default:
			s.printf("Invalid choice: %s\n", choice)
		}
	}
}

// report waits for the action to finish and prints its outcome.
func report[S interface{ History() action.History }](s *Session, states stream.Observable[S], id action.ID, success string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.options.ActionTimeout)
	defer cancel()

	record, err := welcome.AwaitAction(ctx, states, id)
	switch {
	case err == nil && record.FinalizedTxData != nil:
		s.printf("%s in transaction %s\n", success, record.FinalizedTxData.TxHash)
	case errors.Is(err, apperrors.Kind(apperrors.CodeTransactionFailure)):
		s.printf("Action failed: %s\n", record.Error)
		if tx := record.FinalizedTxData; tx != nil {
			s.printf("Transaction %s was included at block %d\n", tx.TxHash, tx.BlockHeight)
		}
	default:
		s.logger.Warn("gave up waiting for action",
			zap.String("actionId", string(id)),
			zap.String("code", string(apperrors.CodeOf(err))),
			zap.Error(err),
		)
		s.printf("Action %s is still in progress\n", id)
	}
}

func (s *Session) displayLedgerState(address blockchain.ContractAddress) error {
	current, err := s.providers.Network.QueryContractState(s.ctx, address)
	if err != nil {
		return err
	}
	if current == nil {
		s.printf("Contract has not been deployed\n")
		return nil
	}
	l, err := stream.First(s.ctx, welcome.LedgerStates(s.providers.Network, address, blockchain.Latest()))
	if err != nil {
		return err
	}
	s.printf("Organizers: [%s]\n", strings.Join(l.OrganizerPks, ", "))
	s.printf("Eligible participants: [%s]\n", strings.Join(l.EligibleParticipants, ", "))
	s.printf("Checked-in participants: [%s]\n", strings.Join(l.CheckedInParticipants, ", "))
	return nil
}

func (s *Session) printActions(h action.History) {
	records := h.Records()
	if len(records) == 0 {
		return
	}
	s.printf("actions:\n")
	for _, r := range records {
		s.printf("  - %s (%s)", r.Action, r.Status)
		if r.FinalizedTxData != nil {
			s.printf(" tx %s", r.FinalizedTxData.TxHash)
		}
		if r.Error != "" {
			s.printf(": %s", r.Error)
		}
		s.printf("\n")
	}
}

// Close waits for pending transactions and releases the session state. It
// never fails.
func (s *Session) Close() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session teardown failed", zap.Any("panic", r))
		}
	}()
	s.app.Close()
}

func (s *Session) question(prompt string) (string, error) {
	s.printf("%s", prompt)
	line, err := s.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func orUndefined(v string) string {
	if v == "" {
		return "undefined"
	}
	return v
}
