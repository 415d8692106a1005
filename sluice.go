package sluice

const Version = "0.1.0"
