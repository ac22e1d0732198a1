package compare

// SecurityProfile describes the threat model of one generator.
type SecurityProfile struct {
	Model          string `json:"model"`
	Predictability string `json:"predictability"`
	KnownAttack    string `json:"known_attack"`
	Impact         string `json:"impact"`
	Recommendation string `json:"recommendation"`
}

// Security is the static narrative attached to every report.
type Security struct {
	Classical  SecurityProfile `json:"classical"`
	Quantum    SecurityProfile `json:"quantum"`
	Conclusion string          `json:"conclusion"`
}

// SecurityAnalysis returns the security narrative. It is not computed from
// the generated data.
func SecurityAnalysis() Security {
	return Security{
		Classical: SecurityProfile{
			Model:          "Algorithmic PRNG (PCG, seedable)",
			Predictability: "Predictable if the seed or internal state is recovered",
			KnownAttack:    "State recovery from observed outputs (624 consecutive 32-bit outputs suffice for MT19937)",
			Impact:         "Future and past outputs become predictable after state compromise; the period is finite",
			Recommendation: "Do not use a general-purpose PRNG directly for key generation",
		},
		Quantum: SecurityProfile{
			Model:          "Physical quantum measurement outcomes",
			Predictability: "Measurement is fundamentally unpredictable; no internal state to clone or rewind",
			KnownAttack:    "No state-recovery shortcut against the randomness source",
			Impact:         "An attacker is limited to brute force over the key length",
			Recommendation: "Preferred entropy source for key material",
		},
		Conclusion: "For equal key length brute-force complexity is similar, but an algorithmic PRNG adds " +
			"predictability risk through state recovery. A physical entropy source removes that attack " +
			"path, so keys derived from it are harder to predict.",
	}
}
