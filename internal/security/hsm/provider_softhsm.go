//go:build softhsm

// Package hsm provides a PKCS#11-backed MAC provider. Built only with the
// softhsm tag so the default build does not depend on a PKCS#11 library.
package hsm

import (
	"fmt"

	"github.com/miekg/pkcs11"
)

// SoftHSMProvider computes 3DES retail MACs through a PKCS#11 token.
type SoftHSMProvider struct {
	libPath  string
	slotID   uint
	pin      string
	keyLabel string

	p11  *pkcs11.Ctx
	sess pkcs11.SessionHandle
	key  pkcs11.ObjectHandle
}

func NewSoftHSMProvider(libPath string, slotID uint, pin, keyLabel string) *SoftHSMProvider {
	return &SoftHSMProvider{libPath: libPath, slotID: slotID, pin: pin, keyLabel: keyLabel}
}

// Open loads the PKCS#11 module, logs in and locates the MAC key.
func (p *SoftHSMProvider) Open() error {
	p.p11 = pkcs11.New(p.libPath)
	if p.p11 == nil {
		return fmt.Errorf("loading pkcs11 library %s failed", p.libPath)
	}
	if err := p.p11.Initialize(); err != nil {
		return fmt.Errorf("initializing pkcs11: %w", err)
	}
	sess, err := p.p11.OpenSession(pkcs11.SlotID(p.slotID), pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		_ = p.p11.Finalize()
		return fmt.Errorf("opening pkcs11 session: %w", err)
	}
	p.sess = sess
	if err := p.p11.Login(p.sess, pkcs11.CKU_USER, p.pin); err != nil {
		_ = p.p11.CloseSession(p.sess)
		_ = p.p11.Finalize()
		return fmt.Errorf("pkcs11 login: %w", err)
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, p.keyLabel),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_DES3),
	}
	if err := p.p11.FindObjectsInit(p.sess, template); err != nil {
		return fmt.Errorf("pkcs11 find init: %w", err)
	}
	objs, _, err := p.p11.FindObjects(p.sess, 1)
	if ferr := p.p11.FindObjectsFinal(p.sess); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		return fmt.Errorf("pkcs11 find objects: %w", err)
	}
	if len(objs) == 0 {
		return fmt.Errorf("mac key %q not found on token", p.keyLabel)
	}
	p.key = objs[0]
	return nil
}

// MAC signs data with the token-resident 3DES key.
func (p *SoftHSMProvider) MAC(data []byte) ([]byte, error) {
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_DES3_MAC, nil)}
	if err := p.p11.SignInit(p.sess, mech, p.key); err != nil {
		return nil, fmt.Errorf("pkcs11 sign init: %w", err)
	}
	mac, err := p.p11.Sign(p.sess, data)
	if err != nil {
		return nil, fmt.Errorf("pkcs11 sign: %w", err)
	}
	if len(mac) > 8 {
		mac = mac[:8]
	}
	return mac, nil
}

// Close logs out and unloads the module.
func (p *SoftHSMProvider) Close() error {
	if p.p11 == nil {
		return nil
	}
	_ = p.p11.Logout(p.sess)
	_ = p.p11.CloseSession(p.sess)
	if err := p.p11.Finalize(); err != nil {
		return err
	}
	p.p11.Destroy()
	p.p11 = nil
	return nil
}
