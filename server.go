package lnurlpay

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/skip2/go-qrcode"
)

// DefaultCallbackTTL is how long a /pay callback stays usable.
const DefaultCallbackTTL = 10 * time.Minute

// ServerConfig configures the reference LNURL-pay service.
type ServerConfig struct {
	Protocol   string
	Host       string
	Port       int
	ListenAddr string

	MinMsatSendable int64
	MaxMsatSendable int64

	// Description is advertised as the text/plain metadata entry.
	Description string

	// LongDescription, if set, is advertised as text/long-desc.
	LongDescription string

	CommentAllowed int

	// SuccessAction is one of "", "message", "url" or "aes".
	SuccessAction string

	// SuccessText is the message of a message action, the description of
	// url and aes actions.
	SuccessText string

	// SuccessURL is the url of a url action.
	SuccessURL string

	// SuccessSecret is the plaintext of an aes action.
	SuccessSecret string

	CallbackTTL time.Duration

	// QRCodeFile, if set, is where a png of the pay code is written on
	// startup.
	QRCodeFile string
}

// Validate checks the configuration.
func (c *ServerConfig) Validate() error {
	if c.MinMsatSendable <= 0 || c.MinMsatSendable > c.MaxMsatSendable {
		return fmt.Errorf("invalid sendable range [%d, %d]",
			c.MinMsatSendable, c.MaxMsatSendable)
	}

	switch c.SuccessAction {
	case "", TagMessage, TagAES:
	case TagURL:
		if c.SuccessURL == "" {
			return fmt.Errorf("url success action needs a url")
		}
	default:
		return fmt.Errorf("unknown success action '%s'",
			c.SuccessAction)
	}

	return nil
}

func (c *ServerConfig) baseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port)
}

// Server is an LNURL-pay service that issues invoices from an lnd node.
type Server struct {
	cfg       *ServerConfig
	lndClient lndclient.LightningClient
	router    *mux.Router

	// metadata is the raw metadata string served to every payer.
	metadata string

	callbacks   map[string]time.Time
	callbacksMu sync.Mutex
}

// NewServer creates a server that creates invoices with lnd.
func NewServer(cfg *ServerConfig, lnd lndclient.LightningClient) (*Server,
	error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CallbackTTL == 0 {
		cfg.CallbackTTL = DefaultCallbackTTL
	}

	entries := [][2]string{{string(EntryPlainText), cfg.Description}}
	if cfg.LongDescription != "" {
		entries = append(entries, [2]string{
			string(EntryLongDesc), cfg.LongDescription,
		})
	}
	metadata, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		lndClient: lnd,
		router:    mux.NewRouter(),
		metadata:  string(metadata),
		callbacks: make(map[string]time.Time),
	}

	s.router.HandleFunc("/pay", s.pay).Methods(http.MethodGet)
	s.router.HandleFunc("/invoice", s.invoice).Methods(http.MethodGet)

	return s, nil
}

// Handler returns the server's http handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// PayCode is the static LNURL-pay code of the server.
func (s *Server) PayCode() (string, error) {
	return EncodeURL(s.cfg.baseURL() + "/pay")
}

// WriteQRCode writes the pay code as a png QR code to path.
func (s *Server) WriteQRCode(path string) error {
	payLNURL, err := s.PayCode()
	if err != nil {
		return err
	}

	return qrcode.WriteFile(payLNURL, qrcode.Medium, 256, path)
}

// Run serves until the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.printHello(); err != nil {
		return err
	}

	if s.cfg.QRCodeFile != "" {
		if err := s.WriteQRCode(s.cfg.QRCodeFile); err != nil {
			return fmt.Errorf("could not write qr code: %w", err)
		}
		log.Infof("Pay code QR written to %s", s.cfg.QRCodeFile)
	}

	info, err := s.lndClient.GetInfo(ctx)
	if err != nil {
		return err
	}

	log.Infof("Connected to node with alias: %s", info.Alias)

	addr := s.cfg.ListenAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", s.cfg.Port)
	}

	return http.ListenAndServe(addr, s.router)
}

func (s *Server) printHello() error {
	payCode := s.cfg.baseURL() + "/pay"

	payLNURL, err := s.PayCode()
	if err != nil {
		return err
	}

	fmt.Printf(
		""+
			"=======================================\n"+
			"Welcome to LNURL-pay!\n"+
			"Your static LNURL-pay code is: \n"+
			"- %s\n"+
			"- lightning:%s\n"+
			"- %s\n"+
			"=======================================\n",
		payLNURL, payLNURL, strings.Replace(
			payCode, s.cfg.Protocol, "lnurlp", 1,
		),
	)

	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Unable to write response: %v", err)
	}
}

// lnurlError writes an LNURL error response.
func lnurlError(w http.ResponseWriter, reason string) {
	writeJSON(w, &ErrorResponse{Status: StatusError, Reason: reason})
}

func (s *Server) pay(w http.ResponseWriter, r *http.Request) {
	// TODO(elle): checkout client IP here to throttle requests.

	id := uuid.New().String()
	now := time.Now()

	s.callbacksMu.Lock()
	for k, created := range s.callbacks {
		if now.Sub(created) > s.cfg.CallbackTTL {
			delete(s.callbacks, k)
		}
	}
	s.callbacks[id] = now
	s.callbacksMu.Unlock()

	writeJSON(w, &PayResponse{
		Callback:       s.cfg.baseURL() + "/invoice?id=" + id,
		MinSendable:    s.cfg.MinMsatSendable,
		MaxSendable:    s.cfg.MaxMsatSendable,
		Metadata:       s.metadata,
		CommentAllowed: s.cfg.CommentAllowed,
		Tag:            TypePayRequest,
	})
}

func (s *Server) invoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	id := query.Get("id")
	if id == "" {
		lnurlError(w, "expected 'id' field")
		return
	}

	s.callbacksMu.Lock()
	created, ok := s.callbacks[id]
	delete(s.callbacks, id)
	s.callbacksMu.Unlock()
	if !ok || time.Since(created) > s.cfg.CallbackTTL {
		lnurlError(w, "unknown or expired callback")
		return
	}

	milliSats, err := strconv.ParseInt(query.Get("amount"), 10, 64)
	if err != nil {
		lnurlError(w, "expected 'amount' field")
		return
	}
	if milliSats < s.cfg.MinMsatSendable ||
		milliSats > s.cfg.MaxMsatSendable {

		lnurlError(w, fmt.Sprintf("amount must be between %d and %d",
			s.cfg.MinMsatSendable, s.cfg.MaxMsatSendable))
		return
	}

	if comment := query.Get("comment"); len(comment) > s.cfg.CommentAllowed {
		lnurlError(w, fmt.Sprintf("comment longer than %d characters",
			s.cfg.CommentAllowed))
		return
	}

	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		lnurlError(w, "internal error")
		return
	}

	descHash := MetadataHash(s.metadata)
	_, pr, err := s.lndClient.AddInvoice(ctx, &invoicesrpc.AddInvoiceData{
		Preimage:        &preimage,
		Value:           lnwire.MilliSatoshi(milliSats),
		DescriptionHash: descHash[:],
	})
	if err != nil {
		log.Errorf("Unable to add invoice: %v", err)
		lnurlError(w, "invoice error")
		return
	}

	resp := &InvoiceResponse{
		PayRequest: pr,
		Routes:     []json.RawMessage{},
	}

	action, err := s.successAction(preimage)
	if err != nil {
		log.Errorf("Unable to create success action: %v", err)
		lnurlError(w, "internal error")
		return
	}
	if action != nil {
		resp.SuccessAction, err = json.Marshal(action)
		if err != nil {
			lnurlError(w, "internal error")
			return
		}
	}

	writeJSON(w, resp)
}

// successAction builds the configured success action for an invoice with
// the given preimage.
func (s *Server) successAction(preimage lntypes.Preimage) (SuccessAction,
	error) {

	switch s.cfg.SuccessAction {
	case TagMessage:
		return &MessageAction{Message: s.cfg.SuccessText}, nil

	case TagURL:
		return &URLAction{
			Description: s.cfg.SuccessText,
			URL:         s.cfg.SuccessURL,
		}, nil

	case TagAES:
		iv := make([]byte, 16)
		if _, err := rand.Read(iv); err != nil {
			return nil, err
		}

		return EncryptSuccessAction(
			s.cfg.SuccessText, s.cfg.SuccessSecret, preimage, iv,
		)
	}

	return nil, nil
}
