package protocols

// FallbackList returns the well-known candidates used when the server did not
// provide a port map: primary protocol, legacy, transports, then obfuscated.
func FallbackList() CandidateList {
	return CandidateList{
		{ProtocolPort: ProtocolPort{Protocol: WireGuard, Port: "443"}, View: Normal()},
		{ProtocolPort: ProtocolPort{Protocol: IKEv2, Port: "500"}, View: Normal()},
		{ProtocolPort: ProtocolPort{Protocol: UDP, Port: "443"}, View: Normal()},
		{ProtocolPort: ProtocolPort{Protocol: TCP, Port: "443"}, View: Normal()},
		{ProtocolPort: ProtocolPort{Protocol: Stealth, Port: "443"}, View: Normal()},
		{ProtocolPort: ProtocolPort{Protocol: WSTunnel, Port: "443"}, View: Normal()},
	}
}

// BuildBaseList returns the baseline candidates: for each supported protocol,
// in the given order, the first port the port map lists for it. Protocols
// missing from the map, or listed without ports, are skipped. An empty port
// map yields FallbackList.
func BuildBaseList(supported []string, portMap map[string][]string) CandidateList {
	if len(portMap) == 0 {
		return FallbackList()
	}

	list := make(CandidateList, 0, len(supported))
	for _, name := range supported {
		ports := portMap[name]
		if len(ports) == 0 || list.Index(name) >= 0 {
			continue
		}
		list = append(list, DisplayProtocolPort{
			ProtocolPort: ProtocolPort{Protocol: name, Port: ports[0]},
			View:         Normal(),
		})
	}
	return list
}
