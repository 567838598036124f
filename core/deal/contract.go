package deal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"TrackDeal/cache"
	"TrackDeal/core/auth"
	"TrackDeal/core/document"
	"TrackDeal/logger"
	"TrackDeal/model"
	"TrackDeal/storage"
)

// SignMeta is best-effort origin metadata stored with a signature.
type SignMeta struct {
	IPAddress string
	UserAgent string
}

// DownloadLink is a short-lived URL to the current contract document.
type DownloadLink struct {
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expiresAt"`
	ContentHash string    `json:"contentHash"`
}

// GenerateContract renders the contract for an accepted offer. It is also
// the retry path after AcceptOffer reported ContractGenerationFailed.
func (e *Engine) GenerateContract(ctx context.Context, c auth.Caller, offerID int64) (*model.Contract, error) {
	if err := e.authorize(c, auth.ActionGenerateContract); err != nil {
		return nil, err
	}
	return e.generateContract(ctx, c, offerID)
}

func (e *Engine) generateContract(ctx context.Context, actor auth.Caller, offerID int64) (*model.Contract, error) {
	offer, err := e.store.Offers().GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, notFound("offer", offerID)
	}
	if offer.Status != model.OfferAccepted {
		return nil, transitionf("contracts can only be generated for accepted offers; offer %d is %s", offer.ID, offer.Status)
	}
	existing, err := e.store.Contracts().GetByOfferID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, transitionf("offer %d already has contract %d", offerID, existing.ID)
	}
	track, err := e.store.Tracks().GetByID(ctx, offer.TrackID)
	if err != nil {
		return nil, err
	}
	if track == nil {
		return nil, notFound("track", offer.TrackID)
	}

	body, version, err := e.templates.Render(newContractData(track, offer, e.now()))
	if err != nil {
		return nil, err
	}
	blob := document.Render(body)
	hash := document.Hash(blob)
	path := contractBlobPath(offer.ID)
	if err := e.blobs.Put(ctx, path, blob); err != nil {
		return nil, fmt.Errorf("store contract document: %w", err)
	}

	var out *model.Contract
	err = e.inTx(ctx, func(t *txn) error {
		o, err := t.Offers().GetByID(ctx, offerID)
		if err != nil {
			return err
		}
		if o == nil || o.Status != model.OfferAccepted {
			return transitionf("offer %d is no longer accepted", offerID)
		}
		dup, err := t.Contracts().GetByOfferID(ctx, offerID)
		if err != nil {
			return err
		}
		if dup != nil {
			return transitionf("offer %d already has contract %d", offerID, dup.ID)
		}
		contract := &model.Contract{
			OfferID:         offer.ID,
			OfferVersion:    offer.Version,
			TrackID:         track.ID,
			ProducerID:      track.UserID,
			TemplateVersion: version,
			Body:            body,
			BlobPath:        strPtr(path),
			ContentHash:     strPtr(hash),
			Status:          model.ContractGenerated,
		}
		if err := t.Contracts().Create(ctx, contract); err != nil {
			return err
		}
		out = contract
		return t.record(change{
			entity: model.EntityContract, id: contract.ID, to: string(contract.Status), actor: actor,
			note: fmt.Sprintf("generated from offer %d v%d with template %s", offer.ID, offer.Version, version),
		})
	})
	if err != nil {
		return nil, err
	}
	logger.Info("contract generated",
		logger.Int64("contract_id", out.ID),
		logger.Int64("offer_id", offerID),
		logger.String("template_version", version),
		logger.String("content_hash", hash),
	)
	return out, nil
}

// SendForSignature releases a generated contract to the producer.
func (e *Engine) SendForSignature(ctx context.Context, c auth.Caller, contractID int64) (*model.Contract, error) {
	if err := e.authorize(c, auth.ActionSendContract); err != nil {
		return nil, err
	}
	contract, err := e.store.Contracts().GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, notFound("contract", contractID)
	}
	if _, err := nextContractStatus(auth.ActionSendContract, contract.Status); err != nil {
		return nil, err
	}
	if _, err := e.currentDocument(ctx, contract); err != nil {
		return nil, err
	}
	return e.transitionContract(ctx, c, contractID, auth.ActionSendContract, nil, nil)
}

// Archive closes a contract. Archiving a fully executed contract needs a
// super admin.
func (e *Engine) Archive(ctx context.Context, c auth.Caller, contractID int64) (*model.Contract, error) {
	if err := e.authorize(c, auth.ActionArchiveContract); err != nil {
		return nil, err
	}
	return e.transitionContract(ctx, c, contractID, auth.ActionArchiveContract, nil, func(ct *model.Contract) error {
		if ct.Status == model.ContractFullyExecuted && c.Tier() != auth.TierSuperAdmin {
			return forbiddenf("only super admins can archive a fully executed contract")
		}
		return nil
	})
}

func (e *Engine) transitionContract(ctx context.Context, c auth.Caller, contractID int64, a auth.Action, fields map[string]interface{}, check func(*model.Contract) error) (*model.Contract, error) {
	var out *model.Contract
	err := e.inTx(ctx, func(t *txn) error {
		contract, err := t.Contracts().GetByID(ctx, contractID)
		if err != nil {
			return err
		}
		if contract == nil {
			return notFound("contract", contractID)
		}
		to, err := nextContractStatus(a, contract.Status)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(contract); err != nil {
				return err
			}
		}
		ok, err := t.Contracts().Transition(ctx, contractID, contract.Status, to, fields)
		if err != nil {
			return err
		}
		if !ok {
			return staleTransition("contract", contractID)
		}
		if err := t.record(change{entity: model.EntityContract, id: contractID, from: string(contract.Status), to: string(to), actor: c}); err != nil {
			return err
		}
		out, err = t.Contracts().GetByID(ctx, contractID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SignAsProducer appends the owning producer's signature block.
func (e *Engine) SignAsProducer(ctx context.Context, c auth.Caller, contractID int64, signerName string, meta SignMeta) (*model.Contract, error) {
	if err := e.authorize(c, auth.ActionSignAsProducer); err != nil {
		return nil, err
	}
	return e.sign(ctx, c, contractID, signerName, meta, model.SignerProducer, auth.ActionSignAsProducer)
}

// SignAsAdmin appends the platform's countersignature and executes the
// contract.
func (e *Engine) SignAsAdmin(ctx context.Context, c auth.Caller, contractID int64, signerName string, meta SignMeta) (*model.Contract, error) {
	if err := e.authorize(c, auth.ActionSignAsAdmin); err != nil {
		return nil, err
	}
	return e.sign(ctx, c, contractID, signerName, meta, model.SignerAdmin, auth.ActionSignAsAdmin)
}

// sign 追加签名块：先写新 blob，再在事务里切换 blob_path/content_hash
func (e *Engine) sign(ctx context.Context, c auth.Caller, contractID int64, signerName string, meta SignMeta, role model.SignerRole, a auth.Action) (*model.Contract, error) {
	signerName = strings.TrimSpace(signerName)
	if signerName == "" {
		return nil, validationf("signer_name is required")
	}
	contract, err := e.store.Contracts().GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, notFound("contract", contractID)
	}
	if role == model.SignerProducer && contract.ProducerID != c.UserID {
		return nil, forbiddenf("only the producer who owns contract %d can sign it", contractID)
	}
	if _, err := nextContractStatus(a, contract.Status); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.lockTTL)
	release, err := e.locker.Lock(lockCtx, fmt.Sprintf("contract-sign:%d", contractID), e.lockTTL)
	cancel()
	if err != nil {
		if errors.Is(err, cache.ErrLockTimeout) {
			return nil, &Error{Kind: KindConflict, Message: fmt.Sprintf("contract %d is being signed by another request", contractID), Err: err}
		}
		return nil, fmt.Errorf("acquire signing lock: %w", err)
	}
	defer release()

	// 持锁后重新读取
	contract, err = e.store.Contracts().GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, notFound("contract", contractID)
	}
	from := contract.Status
	to, err := nextContractStatus(a, from)
	if err != nil {
		return nil, err
	}
	current, err := e.currentDocument(ctx, contract)
	if err != nil {
		return nil, err
	}
	if got := document.Hash(current); got != *contract.ContentHash {
		logger.Integrity("stored contract document does not match recorded hash",
			logger.Int64("contract_id", contractID),
			logger.String("blob_path", *contract.BlobPath),
			logger.String("recorded_hash", *contract.ContentHash),
			logger.String("actual_hash", got),
		)
		return nil, &Error{
			Kind:    KindIntegrityUpdateFailed,
			Message: fmt.Sprintf("contract %d document does not match its recorded hash; manual reconciliation required", contractID),
		}
	}

	signedAt := e.now().UTC()
	token := document.SigningToken(e.signingSecret, contractID, string(role), signerName, signedAt)
	body, blob := document.AppendSignatureBlock(contract.Body, document.SignatureBlock{
		Role:     string(role),
		Name:     signerName,
		SignedAt: signedAt,
		Token:    token,
	})
	hash := document.Hash(blob)
	path := contractBlobPath(contract.OfferID)
	if err := e.blobs.Put(ctx, path, blob); err != nil {
		return nil, fmt.Errorf("store signed document: %w", err)
	}

	signedField := "producer_signed_at"
	if role == model.SignerAdmin {
		signedField = "admin_signed_at"
	}
	var out *model.Contract
	err = e.inTx(ctx, func(t *txn) error {
		ok, err := t.Contracts().Transition(ctx, contractID, from, to, map[string]interface{}{
			"body":         body,
			"blob_path":    path,
			"content_hash": hash,
			signedField:    signedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			return staleTransition("contract", contractID)
		}
		sig := &model.Signature{
			ContractID:  contractID,
			SignerRole:  role,
			SignerID:    c.UserID,
			SignerName:  signerName,
			SignedAt:    signedAt,
			Token:       token,
			ContentHash: hash,
			IPAddress:   meta.IPAddress,
			UserAgent:   meta.UserAgent,
		}
		if err := t.Signatures().Create(ctx, sig); err != nil {
			return err
		}
		if err := t.record(change{
			entity: model.EntityContract, id: contractID, from: string(from), to: string(to), actor: c,
			note: fmt.Sprintf("%s signature by %s", role, signerName),
		}); err != nil {
			return err
		}
		out, err = t.Contracts().GetByID(ctx, contractID)
		return err
	})
	if err != nil {
		if errors.Is(err, errStale) {
			return nil, err
		}
		logger.Integrity("signed document stored but contract hash update failed",
			logger.Int64("contract_id", contractID),
			logger.String("orphaned_blob", path),
			logger.String("current_blob", *contract.BlobPath),
			logger.String("orphaned_hash", hash),
			logger.ErrorField(err),
		)
		return nil, &Error{
			Kind:    KindIntegrityUpdateFailed,
			Message: fmt.Sprintf("contract %d: signed document was stored but the hash update failed; do not retry, reconcile manually", contractID),
			Err:     err,
		}
	}
	logger.Info("contract signed",
		logger.Int64("contract_id", contractID),
		logger.String("role", string(role)),
		logger.String("status", string(to)),
		logger.String("content_hash", hash),
	)
	return out, nil
}

// currentDocument fetches the blob the contract points at.
func (e *Engine) currentDocument(ctx context.Context, contract *model.Contract) ([]byte, error) {
	if contract.BlobPath == nil || contract.ContentHash == nil {
		return nil, preconditionf("contract %d has no generated document", contract.ID)
	}
	blob, err := e.blobs.Get(ctx, *contract.BlobPath)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return nil, preconditionf("contract %d document is missing from the blob store", contract.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("load contract document: %w", err)
	}
	return blob, nil
}

// GetContract returns a contract. Producers may only read their own.
func (e *Engine) GetContract(ctx context.Context, c auth.Caller, contractID int64) (*model.Contract, error) {
	if err := e.authorize(c, auth.ActionViewContract); err != nil {
		return nil, err
	}
	return e.loadContract(ctx, c, contractID)
}

func (e *Engine) loadContract(ctx context.Context, c auth.Caller, contractID int64) (*model.Contract, error) {
	contract, err := e.store.Contracts().GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, notFound("contract", contractID)
	}
	if !c.IsAdminTier() && contract.ProducerID != c.UserID {
		return nil, forbiddenf("contract %d belongs to another producer", contractID)
	}
	return contract, nil
}

// ListSignatures returns the signatures of a contract in signing order.
func (e *Engine) ListSignatures(ctx context.Context, c auth.Caller, contractID int64) ([]*model.Signature, error) {
	if err := e.authorize(c, auth.ActionViewContract); err != nil {
		return nil, err
	}
	if _, err := e.loadContract(ctx, c, contractID); err != nil {
		return nil, err
	}
	return e.store.Signatures().ListByContract(ctx, contractID)
}

// DownloadURL returns a signed URL to the current document. Producers
// cannot download a contract that has not been sent yet.
func (e *Engine) DownloadURL(ctx context.Context, c auth.Caller, contractID int64) (*DownloadLink, error) {
	if err := e.authorize(c, auth.ActionDownloadContract); err != nil {
		return nil, err
	}
	contract, err := e.loadContract(ctx, c, contractID)
	if err != nil {
		return nil, err
	}
	if !c.IsAdminTier() && contract.Status == model.ContractGenerated {
		return nil, preconditionf("contract %d has not been sent for signature yet", contractID)
	}
	if contract.BlobPath == nil || contract.ContentHash == nil {
		return nil, preconditionf("contract %d has no generated document", contractID)
	}
	url, err := e.blobs.SignedURL(ctx, *contract.BlobPath, e.urlTTL)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return nil, preconditionf("contract %d document is missing from the blob store", contractID)
	}
	if err != nil {
		return nil, fmt.Errorf("sign download url: %w", err)
	}
	return &DownloadLink{
		URL:         url,
		ExpiresAt:   e.now().UTC().Add(e.urlTTL),
		ContentHash: *contract.ContentHash,
	}, nil
}

// IntegrityReport is the result of re-hashing a contract's stored document.
type IntegrityReport struct {
	ContractID       int64                `json:"contractId"`
	Status           model.ContractStatus `json:"status"`
	RecordedHash     string               `json:"recordedHash"`
	ActualHash       string               `json:"actualHash"`
	HashMatches      bool                 `json:"hashMatches"`
	Signatures       int                  `json:"signatures"`
	SignatureChainOK bool                 `json:"signatureChainOk"`
	CheckedAt        time.Time            `json:"checkedAt"`
}

// OK reports whether the blob and both ledgers agree.
func (r *IntegrityReport) OK() bool {
	return r.HashMatches && r.SignatureChainOK
}

// VerifyContract re-hashes the stored document and checks it against the
// contract's hash and the hash recorded by its latest signature.
func (e *Engine) VerifyContract(ctx context.Context, c auth.Caller, contractID int64) (*IntegrityReport, error) {
	if err := e.authorize(c, auth.ActionVerifyContract); err != nil {
		return nil, err
	}
	contract, err := e.loadContract(ctx, c, contractID)
	if err != nil {
		return nil, err
	}
	blob, err := e.currentDocument(ctx, contract)
	if err != nil {
		return nil, err
	}
	sigs, err := e.store.Signatures().ListByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{
		ContractID:       contractID,
		Status:           contract.Status,
		RecordedHash:     *contract.ContentHash,
		ActualHash:       document.Hash(blob),
		Signatures:       len(sigs),
		SignatureChainOK: true,
		CheckedAt:        e.now().UTC(),
	}
	report.HashMatches = report.ActualHash == report.RecordedHash
	if n := len(sigs); n > 0 {
		report.SignatureChainOK = sigs[n-1].ContentHash == report.RecordedHash
	}
	if !report.OK() {
		logger.Integrity("contract integrity check failed",
			logger.Int64("contract_id", contractID),
			logger.String("recorded_hash", report.RecordedHash),
			logger.String("actual_hash", report.ActualHash),
			logger.Bool("signature_chain_ok", report.SignatureChainOK),
		)
	}
	return report, nil
}

// ListContracts returns a producer's contracts, newest first.
func (e *Engine) ListContracts(ctx context.Context, c auth.Caller, producerID int64) ([]*model.Contract, error) {
	if err := e.authorize(c, auth.ActionViewContract); err != nil {
		return nil, err
	}
	if !c.IsAdminTier() {
		producerID = c.UserID
	}
	return e.store.Contracts().ListByProducer(ctx, producerID)
}
